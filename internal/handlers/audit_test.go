package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/datapult/datapult/internal/middleware"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/services"
)

func TestAuditHandlerList(t *testing.T) {
	env := newHandlerEnv(t)

	r := gin.New()
	grp := r.Group("/api/audit", middleware.Auth(env.tokens), middleware.RequireRole(models.RoleAdmin))
	grp.GET("", NewAuditHandler(env.audit).List)

	admin := env.seedUser(t, "admin@datapult.dev", "admin pass", models.RoleAdmin)
	authz := map[string]string{"Authorization": env.bearerFor(t, admin)}

	ctx := context.Background()
	require.NoError(t, env.audit.Log(ctx, services.AuditEntry{
		ActorID: &admin.ID, Action: "auth.login", Resource: admin.ID, Result: "success",
	}))
	require.NoError(t, env.audit.Log(ctx, services.AuditEntry{
		ActorID: &admin.ID, Action: "auth.login", Resource: admin.ID, Result: "failure",
	}))
	require.NoError(t, env.audit.Log(ctx, services.AuditEntry{
		ActorID: &admin.ID, Action: "invite.create", Resource: "some-invite", Result: "success",
	}))

	rec := doJSON(r, http.MethodGet, "/api/audit", nil, authz)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":3`)

	rec = doJSON(r, http.MethodGet, "/api/audit?action=auth.login&result=failure", nil, authz)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":1`)
	require.Contains(t, rec.Body.String(), `"failure"`)

	rec = doJSON(r, http.MethodGet, "/api/audit", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
