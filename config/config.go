package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	JWTSecret      string
	JWTExpiration  time.Duration
	ServerPort     string

	InviteExpiration   time.Duration
	SupervisorCapacity int

	SeedSupervisorEmail string

	GitHubAPIURL       string
	GitHubToken        string
	GitHubClientID     string
	GitHubClientSecret string
	ActivityWindow     time.Duration
	SnapshotTTL        time.Duration

	RequestTimeout   time.Duration
	ReminderInterval time.Duration
	ReminderNotice   time.Duration
}

// Load reads a .env file when present and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", "postgresql://postgres@localhost:5432/superviseme"),
		JWTSecret:      getEnv("JWT_SECRET", "your-super-secret-key-change-in-production"),
		JWTExpiration:  getDuration("JWT_EXPIRATION", 24*time.Hour),
		ServerPort:     getEnv("SERVER_PORT", "8080"),

		InviteExpiration:   7 * 24 * time.Hour, // 7 days
		SupervisorCapacity: getInt("SUPERVISOR_CAPACITY", 3),

		SeedSupervisorEmail: getEnv("SEED_SUPERVISOR_EMAIL", "supervisor@superviseme.local"),

		GitHubAPIURL:       getEnv("GITHUB_API_URL", ""),
		GitHubToken:        getEnv("GITHUB_TOKEN", ""),
		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		ActivityWindow:     getDuration("ACTIVITY_WINDOW", 21*24*time.Hour),
		SnapshotTTL:        getDuration("SNAPSHOT_TTL", 10*time.Minute),

		RequestTimeout:   getDuration("REQUEST_TIMEOUT", 15*time.Second),
		ReminderInterval: getDuration("REMINDER_INTERVAL", time.Minute),
		ReminderNotice:   getDuration("REMINDER_NOTICE", 24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
