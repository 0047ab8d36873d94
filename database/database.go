package database

import (
	"fmt"
	"log/slog"

	"superviseme/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DefaultSupervisorPassword is the password of the seeded supervisor, who
// must change it on first login.
const DefaultSupervisorPassword = "supervisor"

// Init opens the database, migrates the schema and seeds the default
// supervisor. The handle is kept in DB.
func Init(driver, dsn, seedEmail string) error {
	db, err := Open(driver, dsn, logger.Info)
	if err != nil {
		return err
	}

	if err := seedDefaultSupervisor(db, seedEmail); err != nil {
		return err
	}

	DB = db
	return nil
}

// Open connects with the named driver ("postgres" or "sqlite") and runs
// the migrations.
func Open(driver, dsn string, level logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// a single connection keeps in-memory databases alive and
		// serializes writers
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Invite{},
		&models.GitHubAccount{},
		&models.ConnectionRequest{},
		&models.Connection{},
		&models.Repository{},
		&models.RepoSnapshot{},
		&models.Task{},
		&models.Reminder{},
	)
}

func seedDefaultSupervisor(db *gorm.DB, email string) error {
	if email == "" {
		return nil
	}

	var count int64
	db.Model(&models.User{}).Where("role = ?", models.RoleSupervisor).Count(&count)
	if count > 0 {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(DefaultSupervisorPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	supervisor := models.User{
		Email:              email,
		DisplayName:        "Default Supervisor",
		PasswordHash:       string(hashedPassword),
		Role:               models.RoleSupervisor,
		MustChangePassword: true,
	}

	if err := db.Create(&supervisor).Error; err != nil {
		return err
	}

	// logged only when the account is created; it must change the password on first login
	slog.Info("default supervisor created",
		slog.String("email", supervisor.Email),
		slog.String("password", DefaultSupervisorPassword))
	return nil
}

func GetDB() *gorm.DB {
	return DB
}
