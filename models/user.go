package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleSupervisor Role = "supervisor"
)

type User struct {
	UID                string         `gorm:"primaryKey;size:36" json:"uid"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
	Email              string         `gorm:"uniqueIndex;not null;size:254" json:"email"`
	DisplayName        string         `gorm:"size:200" json:"display_name"`
	Specialty          string         `gorm:"size:200" json:"specialty,omitempty"`
	PasswordHash       string         `gorm:"not null" json:"-"`
	Role               Role           `gorm:"not null;size:20;index" json:"role"`
	MustChangePassword bool           `gorm:"default:false" json:"must_change_password"`
	GitHubLogin        string         `gorm:"column:github_login;size:100" json:"github_login,omitempty"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UID == "" {
		u.UID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	return nil
}

// Name falls back to the local part of the email, with separators turned into spaces.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return strings.NewReplacer(".", " ", "_", " ").Replace(local)
}

func (u *User) IsSupervisor() bool {
	return u.Role == RoleSupervisor
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
