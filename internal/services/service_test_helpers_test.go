package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/database/testutil"
	"github.com/datapult/datapult/internal/notifications"

	"github.com/stretchr/testify/require"
)

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

type stubNotifier struct {
	messages []notifications.Message
	err      error
}

func (s *stubNotifier) Send(_ context.Context, msg notifications.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func newTestTokenService(t *testing.T, now func() time.Time) *auth.TokenService {
	t.Helper()

	svc, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:    "test-access-secret",
		RefreshSecret:   "test-refresh-secret",
		Issuer:          "datapult-auth",
		Audience:        "datapult",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Clock:           now,
	})
	require.NoError(t, err)
	return svc
}
