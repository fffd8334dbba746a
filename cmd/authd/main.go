package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/api"
	"github.com/datapult/datapult/internal/app"
	"github.com/datapult/datapult/internal/app/maintenance"
	iauth "github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/cache"
	"github.com/datapult/datapult/internal/database"
	"github.com/datapult/datapult/internal/middleware"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/internal/services"
	"github.com/datapult/datapult/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("datapult-authd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_ = godotenv.Load()

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithService("authd")
	for key := range generated {
		log.Warn("generated runtime secret; tokens will not survive a restart", zap.String("key", key))
	}

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	dbStore := cache.NewDatabaseStore(db)

	var redisStore *cache.RedisStore
	if cfg.Cache.Redis.Enabled {
		store, redisErr := cache.NewRedisStore(cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(redisErr))
		} else {
			redisStore = store
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	defer func() {
		if redisStore != nil {
			_ = redisStore.Close()
		}
	}()

	var cacheStore cache.Store = dbStore
	var rateStore middleware.RateStore = middleware.NewDatabaseRateStore(dbStore)
	if redisStore != nil {
		cacheStore = redisStore
		rateStore = middleware.NewRedisRateStore(redisStore)
	}

	tokens, err := iauth.NewTokenService(cfg.Auth.TokenServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise token service: %w", err)
	}

	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return fmt.Errorf("initialise notification client: %w", err)
	}

	inviteSvc, err := services.NewInviteService(db, notifier, auditSvc,
		services.WithInviteBaseURL(cfg.Server.PublicURL),
		services.WithInviteExpiry(cfg.Invites.DefaultTTL),
	)
	if err != nil {
		return fmt.Errorf("initialise invite service: %w", err)
	}

	if err := bootstrapAdmin(ctx, db, inviteSvc, cfg, log); err != nil {
		return err
	}

	var cleaner *maintenance.Cleaner
	if cfg.Maintenance.Enabled {
		cleaner = maintenance.NewCleaner(db, auditSvc, inviteSvc, nil,
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithInviteGrace(cfg.Maintenance.InviteGrace),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	router, err := api.NewRouter(db, tokens, cfg, rateStore, cacheStore)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	return serve(ctx, router, cfg.Server.Port, log)
}

// bootstrapAdmin runs the idempotent first-admin check. A freshly issued
// invitation is logged because the plaintext token is never shown again.
func bootstrapAdmin(ctx context.Context, db *gorm.DB, invites *services.InviteService, cfg *app.Config, log *zap.Logger) error {
	if strings.TrimSpace(cfg.Bootstrap.AdminEmail) == "" {
		return nil
	}

	invite, token, err := services.EnsureAdminInvitation(ctx, db, invites, cfg.Bootstrap.AdminEmail)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	switch {
	case invite != nil && token != "":
		log.Info("admin invitation issued",
			zap.String("email", invite.Email),
			zap.String("invite_link", invites.InviteLink(token)))
	case invite != nil:
		log.Info("admin invitation already pending", zap.String("email", invite.Email))
	}
	return nil
}

// buildNotifier constructs the dispatch client for notifyd. Without a
// configured base URL the bootstrap invitation is issued without email
// delivery; the link still lands in the log.
func buildNotifier(cfg *app.Config) (notifications.Sender, error) {
	if cfg.Notify.BaseURL == "" {
		return nil, nil
	}
	return notifications.NewClient(cfg.Notify.BaseURL, cfg.Auth.ServiceToken,
		notifications.WithClientTimeout(cfg.Notify.Timeout))
}

func serve(ctx context.Context, handler http.Handler, port int, log *zap.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.StoreConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", dbCfg.Driver))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
