package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/models"
)

// EnsureAdminInvitation guarantees the platform has a way in: when no admin
// account exists and no admin invitation is pending, one is issued for the
// configured address. The check is idempotent and safe to re-run on every
// startup. The returned token is non-empty only when a new invitation was
// created; it must be surfaced to the operator because it is never shown
// again.
func EnsureAdminInvitation(ctx context.Context, db *gorm.DB, invites *InviteService, adminEmail string) (*models.Invitation, string, error) {
	ctx = ensureContext(ctx)

	if db == nil {
		return nil, "", errors.New("bootstrap: db is required")
	}
	if invites == nil {
		return nil, "", errors.New("bootstrap: invite service is required")
	}

	var admins int64
	err := db.WithContext(ctx).Model(&models.User{}).
		Where("role = ?", models.RoleAdmin).
		Count(&admins).Error
	if err != nil {
		return nil, "", fmt.Errorf("bootstrap: count admins: %w", err)
	}
	if admins > 0 {
		return nil, "", nil
	}

	email := models.NormalizeEmail(adminEmail)
	if email == "" {
		return nil, "", errors.New("bootstrap: no admin account exists and no admin email is configured")
	}

	if invite, err := invites.FindActiveByEmail(ctx, email); err == nil {
		return invite, "", nil
	} else if !errors.Is(err, ErrInviteNotFound) {
		return nil, "", err
	}

	invite, token, _, err := invites.Create(ctx, CreateInvitationInput{
		Email: email,
		Role:  models.RoleAdmin,
	})
	if err != nil {
		return nil, "", fmt.Errorf("bootstrap: create admin invitation: %w", err)
	}

	return invite, token, nil
}
