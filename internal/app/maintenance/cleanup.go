package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/cache"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/monitoring"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/internal/services"
	"github.com/datapult/datapult/pkg/logger"
)

const (
	defaultAuditRetentionDays    = 90
	defaultDeliveryRetentionDays = 90
	defaultInviteGrace           = 7 * 24 * time.Hour

	defaultAuditSpec    = "@daily"
	defaultInviteSpec   = "@daily"
	defaultDeliverySpec = "@daily"
	defaultCacheSpec    = "@hourly"
	defaultResetSpec    = "@hourly"
)

// Job names as they appear in the maintenance readiness probe.
const (
	JobAuditLogs    = "audit_logs"
	JobInvitations  = "invitations"
	JobDeliveryLogs = "delivery_logs"
	JobCacheEntries = "cache_entries"
	JobResetTokens  = "reset_tokens"
)

// Cleaner coordinates background retention tasks: pruning stale audit logs,
// removing dead invitations, trimming delivery history and evicting expired
// cache entries. Any nil dependency results in the corresponding job being
// skipped, so each daemon runs only the jobs it owns.
type Cleaner struct {
	db         *gorm.DB
	audit      *services.AuditService
	invites    *services.InviteService
	deliveries *notifications.Service
	cron       *cron.Cron
	log        *zap.Logger
	enabled    bool

	auditRetention    int
	deliveryRetention int
	inviteGrace       time.Duration

	auditSchedule    string
	inviteSchedule   string
	deliverySchedule string
	cacheSchedule    string
	resetSchedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.auditRetention = days
		}
	}
}

// WithDeliveryRetentionDays adjusts how long delivery logs are retained.
func WithDeliveryRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.deliveryRetention = days
		}
	}
}

// WithInviteGrace extends how long expired or consumed invitations linger
// before removal.
func WithInviteGrace(grace time.Duration) Option {
	return func(cleaner *Cleaner) {
		if grace > 0 {
			cleaner.inviteGrace = grace
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithInviteSchedule overrides the cron specification for invitation cleanup.
func WithInviteSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.inviteSchedule = spec
		}
	}
}

// WithDeliverySchedule overrides the cron specification for delivery log cleanup.
func WithDeliverySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.deliverySchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache eviction.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithResetSchedule overrides the cron specification for clearing expired
// password reset tokens.
func WithResetSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.resetSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(db *gorm.DB, audit *services.AuditService, invites *services.InviteService, deliveries *notifications.Service, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                db,
		audit:             audit,
		invites:           invites,
		deliveries:        deliveries,
		auditRetention:    defaultAuditRetentionDays,
		deliveryRetention: defaultDeliveryRetentionDays,
		inviteGrace:       defaultInviteGrace,
		auditSchedule:     defaultAuditSpec,
		inviteSchedule:    defaultInviteSpec,
		deliverySchedule:  defaultDeliverySpec,
		cacheSchedule:     defaultCacheSpec,
		resetSchedule:     defaultResetSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.audit != nil || cleaner.invites != nil ||
		cleaner.deliveries != nil || cleaner.db != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	type job struct {
		name     string
		schedule string
		active   bool
		run      func(context.Context) error
	}

	jobs := []job{
		{JobAuditLogs, c.auditSchedule, c.audit != nil && c.auditRetention > 0, c.cleanupAudit},
		{JobInvitations, c.inviteSchedule, c.invites != nil, c.cleanupInvites},
		{JobDeliveryLogs, c.deliverySchedule, c.deliveries != nil && c.deliveryRetention > 0, c.cleanupDeliveries},
		{JobCacheEntries, c.cacheSchedule, c.db != nil, c.cleanupCache},
		{JobResetTokens, c.resetSchedule, c.db != nil, c.cleanupResetTokens},
	}

	for _, j := range jobs {
		if !j.active {
			continue
		}
		name, run := j.name, j.run
		if _, err := c.cron.AddFunc(j.schedule, func() {
			_ = c.runJob(context.Background(), name, run)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.audit != nil && c.auditRetention > 0 {
		errs = multierr.Append(errs, c.runJob(ctx, JobAuditLogs, c.cleanupAudit))
	}
	if c.invites != nil {
		errs = multierr.Append(errs, c.runJob(ctx, JobInvitations, c.cleanupInvites))
	}
	if c.deliveries != nil && c.deliveryRetention > 0 {
		errs = multierr.Append(errs, c.runJob(ctx, JobDeliveryLogs, c.cleanupDeliveries))
	}
	if c.db != nil {
		errs = multierr.Append(errs, c.runJob(ctx, JobCacheEntries, c.cleanupCache))
		errs = multierr.Append(errs, c.runJob(ctx, JobResetTokens, c.cleanupResetTokens))
	}

	return errs
}

// runJob times a cleanup routine and records the outcome for the maintenance
// readiness probe.
func (c *Cleaner) runJob(ctx context.Context, job string, run func(context.Context) error) error {
	start := time.Now()
	err := run(ctx)
	monitoring.RecordMaintenanceRun(job, time.Since(start), err)
	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", job), zap.Error(err))
	}
	return err
}

func (c *Cleaner) cleanupAudit(ctx context.Context) error {
	removed, err := c.audit.CleanupOlderThan(ctx, c.auditRetention)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("pruned audit logs", zap.Int64("removed", removed))
	}
	return nil
}

func (c *Cleaner) cleanupInvites(ctx context.Context) error {
	removed, err := c.invites.CleanupExpired(ctx, c.inviteGrace)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("pruned invitations", zap.Int64("removed", removed))
	}
	return nil
}

func (c *Cleaner) cleanupDeliveries(ctx context.Context) error {
	removed, err := c.deliveries.CleanupOlderThan(ctx, c.deliveryRetention)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("pruned delivery logs", zap.Int64("removed", removed))
	}
	return nil
}

// cleanupResetTokens clears reset fields whose expiry passed. The reset flow
// already ignores expired tokens; this keeps dead digests out of the table.
func (c *Cleaner) cleanupResetTokens(ctx context.Context) error {
	res := c.db.WithContext(ctx).Model(&models.User{}).
		Where("password_reset_expires IS NOT NULL AND password_reset_expires <= ?", time.Now().UTC()).
		Updates(map[string]any{"password_reset_token": nil, "password_reset_expires": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		c.log.Info("cleared expired reset tokens", zap.Int64("cleared", res.RowsAffected))
	}
	return nil
}

func (c *Cleaner) cleanupCache(ctx context.Context) error {
	removed, err := cache.NewDatabaseStore(c.db).PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("evicted cache entries", zap.Int64("removed", removed))
	}
	return nil
}
