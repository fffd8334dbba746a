package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/app"
	iauth "github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/cache"
	"github.com/datapult/datapult/internal/handlers"
	"github.com/datapult/datapult/internal/middleware"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/monitoring"
	"github.com/datapult/datapult/internal/monitoring/checks"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/internal/services"
)

// NewRouter builds the auth service Gin engine: wires the service layer,
// global middleware and all credential lifecycle routes. A nil rateStore
// falls back to per-process in-memory rate limiting.
func NewRouter(db *gorm.DB, tokens *iauth.TokenService, cfg *app.Config, rateStore middleware.RateStore, cacheStore cache.Store) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return nil, err
	}

	inviteSvc, err := services.NewInviteService(db, notifier, auditSvc,
		services.WithInviteBaseURL(cfg.Server.PublicURL),
		services.WithInviteExpiry(cfg.Invites.DefaultTTL),
	)
	if err != nil {
		return nil, err
	}

	authSvc, err := services.NewAuthService(db, tokens, inviteSvc, auditSvc, notifier,
		services.WithAuthBaseURL(cfg.Server.PublicURL),
		services.WithLockoutPolicy(cfg.Auth.LockoutPolicy()),
		services.WithResetExpiry(cfg.Auth.Recovery.TokenTTL),
	)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSWithOrigins(cfg.Server.AllowedOrigins))
	// Basic rate limiting: 100 requests/minute per IP+path
	if rateStore != nil {
		r.Use(middleware.RateLimitWithStore(rateStore, 100, time.Minute))
	} else {
		r.Use(middleware.RateLimit(100, time.Minute))
	}

	registerHealthRoutes(r, cfg, authHealthManager(db, cacheStore))

	authHandler := handlers.NewAuthHandler(authSvc)
	inviteHandler := handlers.NewInviteHandler(inviteSvc)
	auditHandler := handlers.NewAuditHandler(auditSvc)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	// Introspection for sibling services, guarded by the shared secret
	auth.POST("/validate", middleware.ServiceAuth(cfg.Auth.ServiceToken), authHandler.Validate)

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(tokens))

	api.GET("/auth/me", authHandler.Me)

	invites := api.Group("/invites")
	invites.Use(middleware.RequireRole(models.RoleAdmin))
	{
		invites.POST("", inviteHandler.Create)
		invites.GET("", inviteHandler.List)
		invites.POST("/:id/resend", inviteHandler.Resend)
		invites.DELETE("/:id", inviteHandler.Revoke)
	}

	audit := api.Group("/audit")
	audit.Use(middleware.RequireRole(models.RoleAdmin))
	audit.GET("", auditHandler.List)

	registerMetricsRoute(r, cfg)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// buildNotifier constructs the dispatch client for the notification service.
// Without a configured base URL the auth service runs without outbound
// notifications; invitation and reset links are still returned to callers.
func buildNotifier(cfg *app.Config) (notifications.Sender, error) {
	if cfg.Notify.BaseURL == "" {
		return nil, nil
	}
	client, err := notifications.NewClient(cfg.Notify.BaseURL, cfg.Auth.ServiceToken,
		notifications.WithClientTimeout(cfg.Notify.Timeout))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// authHealthManager assembles the probes backing the auth service health
// endpoints.
func authHealthManager(db *gorm.DB, cacheStore cache.Store) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(checks.Database(db, 0))
	manager.RegisterReadiness(checks.Cache(cacheStore, 0))
	manager.RegisterReadiness(checks.Maintenance(0))
	return manager
}

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	if !cfg.Monitoring.Health.Enabled {
		return
	}
	r.GET("/healthz", handlers.Healthz(manager))
	r.GET("/readyz", handlers.Readyz(manager))
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config) {
	if !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	endpoint := cfg.Monitoring.Prometheus.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}
