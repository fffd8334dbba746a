package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/app"
	"github.com/datapult/datapult/internal/handlers"
	"github.com/datapult/datapult/internal/middleware"
	"github.com/datapult/datapult/internal/monitoring"
	"github.com/datapult/datapult/internal/monitoring/checks"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/pkg/mail"
)

// NewNotifyRouter builds the notification daemon's Gin engine. Every
// dispatch route sits behind the shared service token; the daemon has no
// user-facing surface.
func NewNotifyRouter(db *gorm.DB, mailer mail.Mailer, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	svc, err := notifications.NewService(db, mailer)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerHealthRoutes(r, cfg, notifyHealthManager(db, cfg))

	handler := handlers.NewNotificationHandler(svc)

	guarded := r.Group("/api")
	guarded.Use(middleware.ServiceAuth(cfg.Auth.ServiceToken))
	guarded.POST("/notifications", handler.Dispatch)

	registerMetricsRoute(r, cfg)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func notifyHealthManager(db *gorm.DB, cfg *app.Config) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(checks.Database(db, 0))
	manager.RegisterReadiness(checks.SMTP(cfg.Email.SMTP.Enabled, cfg.Email.SMTP.Host, cfg.Email.SMTP.Port, cfg.Email.SMTP.Timeout))
	manager.RegisterReadiness(checks.Maintenance(0))
	return manager
}
