package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/pkg/logger"
	"github.com/datapult/datapult/pkg/mail"
	"github.com/datapult/datapult/pkg/metrics"
	"github.com/datapult/datapult/pkg/validator"
)

// ServiceOption customises Service behaviour.
type ServiceOption func(*Service)

// WithServiceClock injects a custom time source.
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service is the delivery side of the notification contract: it renders the
// requested template, hands the email to the mailer and records the attempt.
// SMTP outcomes are captured in the delivery log, never surfaced to the
// caller that queued the message.
type Service struct {
	db     *gorm.DB
	mailer mail.Mailer
	now    func() time.Time
	log    *zap.Logger
}

// NewService constructs the delivery service.
func NewService(db *gorm.DB, mailer mail.Mailer, opts ...ServiceOption) (*Service, error) {
	if db == nil {
		return nil, errors.New("notifications: db is required")
	}
	if mailer == nil {
		return nil, errors.New("notifications: mailer is required")
	}

	service := &Service{
		db:     db,
		mailer: mailer,
		now:    time.Now,
		log:    logger.WithModule("notifications"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Deliver processes one notification request end to end. The returned entry
// reflects what happened: sent, skipped when SMTP is disabled, or failed with
// the failure detail. Only validation and persistence problems return errors.
func (s *Service) Deliver(ctx context.Context, msg Message) (*models.DeliveryLog, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !ValidType(msg.Type) {
		return nil, fmt.Errorf("notifications: unknown message type %q", msg.Type)
	}
	if err := validator.ValidateVar(msg.Recipient, "required,email"); err != nil {
		return nil, fmt.Errorf("notifications: invalid recipient: %w", err)
	}

	entry := &models.DeliveryLog{
		Type:      msg.Type,
		Recipient: msg.Recipient,
	}
	if len(msg.Data) > 0 {
		if payload, err := json.Marshal(msg.Data); err == nil {
			entry.Payload = datatypes.JSON(payload)
		}
	}

	rendered, err := Render(msg)
	if err != nil {
		entry.Status = models.DeliveryFailed
		entry.Detail = err.Error()
	} else {
		entry.Subject = rendered.Subject
		sendErr := s.mailer.Send(ctx, mail.Message{
			To:      []string{msg.Recipient},
			Subject: rendered.Subject,
			Body:    rendered.Body,
		})
		switch {
		case errors.Is(sendErr, mail.ErrSMTPDisabled):
			entry.Status = models.DeliverySkipped
			entry.Detail = "smtp delivery disabled"
		case sendErr != nil:
			entry.Status = models.DeliveryFailed
			entry.Detail = sendErr.Error()
			s.log.Warn("notification delivery failed",
				zap.String("type", msg.Type),
				zap.Error(sendErr),
			)
		default:
			entry.Status = models.DeliverySent
		}
	}

	metrics.NotificationSends.WithLabelValues(msg.Type, entry.Status).Inc()

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("notifications: record delivery: %w", err)
	}

	return entry, nil
}

// CleanupOlderThan removes delivery log rows older than the retention window
// and returns the number deleted.
func (s *Service) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if retentionDays <= 0 {
		return 0, errors.New("notifications: retention must be positive")
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.DeliveryLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("notifications: cleanup delivery log: %w", result.Error)
	}

	return result.RowsAffected, nil
}
