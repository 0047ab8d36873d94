package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

// Invite lets an existing supervisor bring another supervisor on board.
// Students register without one.
type Invite struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Code      string         `gorm:"uniqueIndex;not null;size:64" json:"code"`
	Email     string         `gorm:"size:254" json:"email,omitempty"`
	Role      Role           `gorm:"not null;size:20" json:"role"`
	Used      bool           `gorm:"default:false" json:"used"`
	CreatedBy string         `gorm:"not null;size:36;index" json:"created_by"`
	ExpiresAt time.Time      `gorm:"not null" json:"expires_at"`
}

func GenerateInviteCode() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (i *Invite) IsValid() bool {
	return !i.Used && time.Now().Before(i.ExpiresAt)
}

// Admits reports whether the invite may be redeemed by email.
// An invite without an email is open to anyone holding the code.
func (i *Invite) Admits(email string) bool {
	return i.IsValid() && (i.Email == "" || i.Email == NormalizeEmail(email))
}
