package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/middleware"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/internal/services"
)

func newAuthHandlerRouter(env *handlerEnv) *gin.Engine {
	r := gin.New()
	h := NewAuthHandler(env.auth)

	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/refresh", h.Refresh)
	r.POST("/api/auth/forgot-password", h.ForgotPassword)
	r.POST("/api/auth/reset-password", h.ResetPassword)
	r.POST("/api/auth/validate", h.Validate)
	r.GET("/api/auth/me", middleware.Auth(env.tokens), h.Me)
	return r
}

func TestAuthHandlerLoginValidation(t *testing.T) {
	env := newHandlerEnv(t)
	router := newAuthHandlerRouter(env)

	rec := doJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "not-an-address",
		"password": "something",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "BAD_REQUEST")
	require.Contains(t, rec.Body.String(), "valid email address")

	rec = doJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "ada@datapult.dev",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "password is required")

	// A payload that is valid JSON but not an object fails binding outright.
	rec = doJSON(router, http.MethodPost, "/api/auth/login", "login please", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid JSON payload")
}

func TestAuthHandlerForgotPasswordNeverRevealsAccounts(t *testing.T) {
	env := newHandlerEnv(t)
	router := newAuthHandlerRouter(env)

	env.seedUser(t, "known@datapult.dev", "original pass", models.RoleUser)

	recUnknown := doJSON(router, http.MethodPost, "/api/auth/forgot-password", map[string]string{
		"email": "unknown@datapult.dev",
	}, nil)
	require.Equal(t, http.StatusAccepted, recUnknown.Code)

	recKnown := doJSON(router, http.MethodPost, "/api/auth/forgot-password", map[string]string{
		"email": "known@datapult.dev",
	}, nil)
	require.Equal(t, http.StatusAccepted, recKnown.Code)

	// Identical responses either way; only the dispatch log differs.
	require.Equal(t, recUnknown.Body.String(), recKnown.Body.String())
	require.Contains(t, recKnown.Body.String(), "If the account exists")
	require.Len(t, env.sender.messages, 1)
	require.Equal(t, notifications.TypePasswordReset, env.sender.last(t).Type)

	// The stored token is a digest, never the raw value that was mailed.
	raw, _ := env.sender.last(t).Data["link"].(string)
	require.NotEmpty(t, raw)

	var user models.User
	require.NoError(t, env.db.First(&user, "email = ?", "known@datapult.dev").Error)
	require.NotNil(t, user.PasswordResetToken)
	require.NotEqual(t, raw, *user.PasswordResetToken)
}

func TestAuthHandlerResetPasswordRoundTrip(t *testing.T) {
	env := newHandlerEnv(t)
	router := newAuthHandlerRouter(env)

	env.seedUser(t, "reset@datapult.dev", "original pass", models.RoleUser)

	rec := doJSON(router, http.MethodPost, "/api/auth/forgot-password", map[string]string{
		"email": "reset@datapult.dev",
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Without a public URL the dispatched link is the bare token.
	token, _ := env.sender.last(t).Data["link"].(string)
	require.NotEmpty(t, token)

	rec = doJSON(router, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":    token,
		"password": "replacement pass",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reset":true`)

	rec = doJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "reset@datapult.dev",
		"password": "original pass",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "reset@datapult.dev",
		"password": "replacement pass",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The token was spent by the first reset.
	rec = doJSON(router, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":    token,
		"password": "third pass",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid or has expired")
}

func TestAuthHandlerLockoutSurfacesRetryWindow(t *testing.T) {
	env := newHandlerEnv(t, services.WithLockoutPolicy(iauth.NewLockoutPolicy(3, 10*time.Minute)))
	router := newAuthHandlerRouter(env)

	env.seedUser(t, "locked@datapult.dev", "right pass", models.RoleUser)

	for i := 0; i < 3; i++ {
		rec := doJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
			"email":    "locked@datapult.dev",
			"password": "wrong pass",
		}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "Invalid email or password")
	}

	// Even the correct password is refused while the lock holds.
	rec := doJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "locked@datapult.dev",
		"password": "right pass",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "temporarily locked")
	require.Contains(t, rec.Body.String(), "10 minutes")
}

func TestAuthHandlerValidateClassifiesTokens(t *testing.T) {
	env := newHandlerEnv(t)
	router := newAuthHandlerRouter(env)

	user := env.seedUser(t, "tokens@datapult.dev", "right pass", models.RoleAdmin)
	pair, err := env.tokens.IssuePair(user)
	require.NoError(t, err)

	rec := doJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{"token": pair.AccessToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var access struct {
		Data services.TokenIntrospection `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &access))
	require.True(t, access.Data.Valid)
	require.Equal(t, iauth.TokenTypeAccess, access.Data.TokenType)
	require.Equal(t, user.ID, access.Data.UserID)
	require.Equal(t, models.RoleAdmin, access.Data.Role)

	rec = doJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{"token": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var refresh struct {
		Data services.TokenIntrospection `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refresh))
	require.True(t, refresh.Data.Valid)
	require.Equal(t, iauth.TokenTypeRefresh, refresh.Data.TokenType)
	require.Empty(t, refresh.Data.Role)

	rec = doJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{"token": "garbage"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var invalid struct {
		Data services.TokenIntrospection `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invalid))
	require.False(t, invalid.Data.Valid)
	require.Equal(t, "invalid", invalid.Data.Reason)

	rec = doJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	env := newHandlerEnv(t)
	router := newAuthHandlerRouter(env)

	user := env.seedUser(t, "me@datapult.dev", "right pass", models.RoleUser)

	rec := doJSON(router, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/auth/me", nil, map[string]string{
		"Authorization": env.bearerFor(t, user),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "me@datapult.dev")
	// The password hash never serialises.
	require.NotContains(t, rec.Body.String(), "password")
}
