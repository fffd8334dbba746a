package models

import (
	"strings"
	"time"
)

// User describes a platform account. Accounts come into existence only by
// accepting an invitation; there is no open signup path.
type User struct {
	BaseModel

	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash *string `json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	Role     string `gorm:"type:varchar(16);not null;default:'user'" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	LastLogin *time.Time `json:"last_login"`

	FailedLoginAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil         *time.Time `json:"-"`

	// Both reset fields are set together and cleared together.
	PasswordResetToken   *string    `json:"-"`
	PasswordResetExpires *time.Time `json:"-"`
}

// NormalizeEmail canonicalises an address for storage and lookup. Emails are
// unique case-insensitively, so every path through the store lowercases first.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
