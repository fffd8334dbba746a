package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/app"
	iauth "github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/database/testutil"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/pkg/crypto"
)

func newRouterTestConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.Auth.JWT.AccessSecret = "router-access-secret"
	cfg.Auth.JWT.RefreshSecret = "router-refresh-secret"
	cfg.Auth.ServiceToken = "router-service-token"
	// No notifyd is listening during tests; an empty base URL keeps
	// dispatch disabled while invite links are still returned to callers.
	cfg.Notify.BaseURL = ""
	return cfg
}

func newTestRouter(t *testing.T, cfg *app.Config) (*gin.Engine, *gorm.DB, *iauth.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	tokens, err := iauth.NewTokenService(cfg.Auth.TokenServiceConfig())
	require.NoError(t, err)

	router, err := NewRouter(db, tokens, cfg, nil, nil)
	require.NoError(t, err)
	return router, db, tokens
}

func seedRouterUser(t *testing.T, db *gorm.DB, email, password, role string) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Email:        models.NormalizeEmail(email),
		PasswordHash: &hash,
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func performJSON(router *gin.Engine, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
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

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	cfg := newRouterTestConfig(t)
	router, db, tokens := newTestRouter(t, cfg)

	rec := performJSON(router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = performJSON(router, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = performJSON(router, http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = performJSON(router, http.MethodGet, "/api/invites", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Authenticated but non-admin callers stay out of the invite surface.
	member := seedRouterUser(t, db, "member@datapult.dev", "S3cret-pass", models.RoleUser)
	pair, err := tokens.IssuePair(member)
	require.NoError(t, err)

	rec = performJSON(router, http.MethodGet, "/api/invites", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Introspection is reserved for trusted services.
	rec = performJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{"token": pair.AccessToken}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = performJSON(router, http.MethodGet, "/api/unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestRouterLoginFlow(t *testing.T) {
	cfg := newRouterTestConfig(t)
	router, db, _ := newTestRouter(t, cfg)

	seedRouterUser(t, db, "ada@datapult.dev", "correct horse battery", models.RoleUser)

	rec := performJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ada@datapult.dev",
		"password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var login struct {
		Success bool `json:"success"`
		Data    struct {
			User struct {
				Email string `json:"email"`
				Role  string `json:"role"`
			} `json:"user"`
			Tokens struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
			} `json:"tokens"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.True(t, login.Success)
	require.Equal(t, "ada@datapult.dev", login.Data.User.Email)
	require.NotEmpty(t, login.Data.Tokens.AccessToken)
	require.NotEmpty(t, login.Data.Tokens.RefreshToken)

	// The issued access token opens the protected profile route.
	rec = performJSON(router, http.MethodGet, "/api/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Data.Tokens.AccessToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ada@datapult.dev")

	// A wrong password is rejected without naming which part failed.
	rec = performJSON(router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "ada@datapult.dev",
		"password": "wrong",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid email or password")

	// Refresh trades the refresh token for a fresh pair.
	rec = performJSON(router, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": login.Data.Tokens.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "access_token")

	// Access tokens must not be accepted on the refresh route.
	rec = performJSON(router, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": login.Data.Tokens.AccessToken,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterValidateRequiresServiceToken(t *testing.T) {
	cfg := newRouterTestConfig(t)
	router, db, tokens := newTestRouter(t, cfg)

	user := seedRouterUser(t, db, "svc@datapult.dev", "S3cret-pass", models.RoleAdmin)
	pair, err := tokens.IssuePair(user)
	require.NoError(t, err)

	rec := performJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{
		"token": pair.AccessToken,
	}, map[string]string{"X-Service-Token": cfg.Auth.ServiceToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var introspection struct {
		Data struct {
			Valid     bool   `json:"valid"`
			TokenType string `json:"token_type"`
			UserID    string `json:"user_id"`
			Role      string `json:"role"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &introspection))
	require.True(t, introspection.Data.Valid)
	require.Equal(t, "access", introspection.Data.TokenType)
	require.Equal(t, user.ID, introspection.Data.UserID)
	require.Equal(t, models.RoleAdmin, introspection.Data.Role)

	// Garbage tokens still yield 200 with a tagged reason.
	rec = performJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{
		"token": "not-a-jwt",
	}, map[string]string{"X-Service-Token": cfg.Auth.ServiceToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"valid":false`)

	// A bad service token never reaches the handler.
	rec = performJSON(router, http.MethodPost, "/api/auth/validate", map[string]string{
		"token": pair.AccessToken,
	}, map[string]string{"X-Service-Token": "incorrect"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterInviteLifecycle(t *testing.T) {
	cfg := newRouterTestConfig(t)
	router, db, tokens := newTestRouter(t, cfg)

	admin := seedRouterUser(t, db, "root@datapult.dev", "S3cret-pass", models.RoleAdmin)
	pair, err := tokens.IssuePair(admin)
	require.NoError(t, err)
	authz := map[string]string{"Authorization": "Bearer " + pair.AccessToken}

	rec := performJSON(router, http.MethodPost, "/api/invites", map[string]any{
		"email": "new.analyst@datapult.dev",
		"role":  models.RoleUser,
	}, authz)
	require.Equal(t, http.StatusCreated, rec.Code)

	var issued struct {
		Data struct {
			Invite struct {
				ID    string `json:"id"`
				Email string `json:"email"`
			} `json:"invite"`
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Data.Invite.ID)
	require.NotEmpty(t, issued.Data.Token)

	rec = performJSON(router, http.MethodGet, "/api/invites?status=pending", nil, authz)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "new.analyst@datapult.dev")

	// Redeeming the invite token registers the account and signs it in.
	rec = performJSON(router, http.MethodPost, "/api/auth/register", map[string]string{
		"token":    issued.Data.Token,
		"password": "an adequate passphrase",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "new.analyst@datapult.dev")

	// Accepted invitations can no longer be revoked.
	rec = performJSON(router, http.MethodDelete, "/api/invites/"+issued.Data.Invite.ID, nil, authz)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "already been accepted")
}

func TestRouterMetricsEndpoint(t *testing.T) {
	cfg := newRouterTestConfig(t)
	router, _, _ := newTestRouter(t, cfg)

	rec := performJSON(router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = performJSON(router, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(),
		fmt.Sprintf("datapult_api_latency_seconds_count{method=%q,path=%q,status=%q}", "GET", "/healthz", "200"))
}

func TestRouterMonitoringDisabled(t *testing.T) {
	cfg := newRouterTestConfig(t)
	cfg.Monitoring.Prometheus.Enabled = false
	cfg.Monitoring.Health.Enabled = false
	router, _, _ := newTestRouter(t, cfg)

	rec := performJSON(router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = performJSON(router, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
