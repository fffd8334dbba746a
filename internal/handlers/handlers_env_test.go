package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/database/testutil"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/internal/services"
	"github.com/datapult/datapult/pkg/crypto"
)

// captureSender records dispatched notifications instead of delivering them.
type captureSender struct {
	messages []notifications.Message
}

func (c *captureSender) Send(_ context.Context, msg notifications.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func (c *captureSender) last(t *testing.T) notifications.Message {
	t.Helper()
	require.NotEmpty(t, c.messages)
	return c.messages[len(c.messages)-1]
}

type handlerEnv struct {
	db      *gorm.DB
	tokens  *iauth.TokenService
	audit   *services.AuditService
	invites *services.InviteService
	auth    *services.AuthService
	sender  *captureSender
}

func newHandlerEnv(t *testing.T, opts ...services.AuthOption) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	tokens, err := iauth.NewTokenService(iauth.TokenConfig{
		AccessSecret:  "handler-access-secret",
		RefreshSecret: "handler-refresh-secret",
		Issuer:        "datapult-test",
	})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	sender := &captureSender{}
	inviteSvc, err := services.NewInviteService(db, sender, auditSvc)
	require.NoError(t, err)

	authSvc, err := services.NewAuthService(db, tokens, inviteSvc, auditSvc, sender, opts...)
	require.NoError(t, err)

	return &handlerEnv{
		db:      db,
		tokens:  tokens,
		audit:   auditSvc,
		invites: inviteSvc,
		auth:    authSvc,
		sender:  sender,
	}
}

func (e *handlerEnv) seedUser(t *testing.T, email, password, role string) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Email:        models.NormalizeEmail(email),
		PasswordHash: &hash,
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *handlerEnv) bearerFor(t *testing.T, user *models.User) string {
	t.Helper()

	pair, err := e.tokens.IssuePair(user)
	require.NoError(t, err)
	return "Bearer " + pair.AccessToken
}

func doJSON(router *gin.Engine, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
