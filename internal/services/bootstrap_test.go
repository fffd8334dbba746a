package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/models"
)

func newBootstrapInviteService(t *testing.T, db *gorm.DB) *InviteService {
	t.Helper()

	invites, err := NewInviteService(db, nil, nil,
		WithInviteClock(func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)
	return invites
}

func TestEnsureAdminInvitationCreatesFirstInvite(t *testing.T) {
	db := openServiceTestDB(t)
	invites := newBootstrapInviteService(t, db)

	invite, token, err := EnsureAdminInvitation(context.Background(), db, invites, "root@example.com")
	require.NoError(t, err)
	require.NotNil(t, invite)
	require.Equal(t, "root@example.com", invite.Email)
	require.Equal(t, models.RoleAdmin, invite.Role)
	require.NotEmpty(t, token)

	var count int64
	require.NoError(t, db.Model(&models.Invitation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestEnsureAdminInvitationNoopWhenAdminExists(t *testing.T) {
	db := openServiceTestDB(t)
	invites := newBootstrapInviteService(t, db)

	admin := createTestUser(t, db, "boss@example.com", "pass")
	require.NoError(t, db.Model(admin).Update("role", models.RoleAdmin).Error)

	invite, token, err := EnsureAdminInvitation(context.Background(), db, invites, "root@example.com")
	require.NoError(t, err)
	require.Nil(t, invite)
	require.Empty(t, token)

	var count int64
	require.NoError(t, db.Model(&models.Invitation{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEnsureAdminInvitationIsIdempotent(t *testing.T) {
	db := openServiceTestDB(t)
	invites := newBootstrapInviteService(t, db)

	first, token, err := EnsureAdminInvitation(context.Background(), db, invites, "root@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// A restart finds the pending invitation and does not mint another one.
	second, token2, err := EnsureAdminInvitation(context.Background(), db, invites, "root@example.com")
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, first.ID, second.ID)
	require.Empty(t, token2)

	var count int64
	require.NoError(t, db.Model(&models.Invitation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestEnsureAdminInvitationRequiresEmail(t *testing.T) {
	db := openServiceTestDB(t)
	invites := newBootstrapInviteService(t, db)

	_, _, err := EnsureAdminInvitation(context.Background(), db, invites, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no admin email")
}

func TestEnsureAdminInvitationEmailHeldByExistingUser(t *testing.T) {
	db := openServiceTestDB(t)
	invites := newBootstrapInviteService(t, db)

	createTestUser(t, db, "taken@example.com", "pass")

	_, _, err := EnsureAdminInvitation(context.Background(), db, invites, "taken@example.com")
	require.ErrorIs(t, err, ErrInviteEmailInUse)
}
