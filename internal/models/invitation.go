package models

import "time"

// Invitation is a single-use, time-bounded registration credential for a
// fixed email and role. The opaque token is handed out exactly once at issue
// time; only its digest is stored.
type Invitation struct {
	BaseModel

	Email     string `gorm:"not null;index" json:"email"`
	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`
	Role      string `gorm:"type:varchar(16);not null;default:'user'" json:"role"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`

	// InvitedByID is a weak reference to the inviting user. Bootstrap
	// invitations carry no inviter.
	InvitedByID *string `gorm:"type:uuid" json:"invited_by_id,omitempty"`
	InvitedBy   *User   `gorm:"foreignKey:InvitedByID;constraint:OnDelete:SET NULL" json:"invited_by,omitempty"`

	IsAccepted bool       `gorm:"default:false;index" json:"is_accepted"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Active reports whether the invitation can still be redeemed at the given
// instant: not yet accepted and not expired.
func (i *Invitation) Active(now time.Time) bool {
	return !i.IsAccepted && i.ExpiresAt.After(now)
}
