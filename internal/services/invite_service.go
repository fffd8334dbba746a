package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/pkg/crypto"
	"github.com/datapult/datapult/pkg/logger"
	"github.com/datapult/datapult/pkg/metrics"
)

const (
	defaultInviteExpiry     = 72 * time.Hour
	defaultInviteTokenBytes = 48
)

var (
	// ErrInviteNotFound indicates no invitation matches the provided token or id.
	ErrInviteNotFound = errors.New("invite: not found")
	// ErrInviteExpired indicates the invitation token has expired.
	ErrInviteExpired = errors.New("invite: expired")
	// ErrInviteAlreadyUsed signals that the invitation has already been accepted.
	ErrInviteAlreadyUsed = errors.New("invite: already accepted")
	// ErrInviteEmailInUse signals that a registered account already holds the email.
	ErrInviteEmailInUse = errors.New("invite: email already registered")
	// ErrInviteAlreadyPending signals that an active invitation already exists for the email.
	ErrInviteAlreadyPending = errors.New("invite: active invitation already exists")
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBaseURL configures the base URL used to create registration links.
func WithInviteBaseURL(url string) InviteOption {
	return func(s *InviteService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithInviteExpiry overrides the invitation token lifetime.
func WithInviteExpiry(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInviteTokenSize adjusts the random token length in bytes.
func WithInviteTokenSize(size int) InviteOption {
	return func(s *InviteService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InviteService manages the invitation lifecycle: issuing registration
// tokens, looking them up during registration, marking them accepted and
// reissuing stale ones. Tokens are handed out exactly once; only their
// digest is persisted.
type InviteService struct {
	db          *gorm.DB
	notifier    notifications.Sender
	audit       *AuditService
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
	log         *zap.Logger
}

// NewInviteService constructs an InviteService with the provided dependencies.
// The notifier and audit service may be nil; invitation links are then only
// returned to the caller.
func NewInviteService(db *gorm.DB, notifier notifications.Sender, audit *AuditService, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}

	service := &InviteService{
		db:          db,
		notifier:    notifier,
		audit:       audit,
		expiry:      defaultInviteExpiry,
		tokenLength: defaultInviteTokenBytes,
		now:         time.Now,
		log:         logger.WithModule("invites"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateInvitationInput describes a new invitation request.
type CreateInvitationInput struct {
	Email       string
	Role        string
	TTL         time.Duration
	InvitedByID *string
}

// Create issues a new invitation for the given email and role. It fails when
// the email already belongs to a registered account or has an active
// invitation pending. The plain token is returned exactly once.
func (s *InviteService) Create(ctx context.Context, input CreateInvitationInput) (*models.Invitation, string, string, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(input.Email)
	if email == "" {
		return nil, "", "", errors.New("invite service: email is required")
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = models.RoleUser
	}
	if !models.ValidRole(role) {
		return nil, "", "", fmt.Errorf("invite service: invalid role %q", role)
	}

	var userCount int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", email).
		Count(&userCount).Error; err != nil {
		return nil, "", "", fmt.Errorf("invite service: check existing user: %w", err)
	}
	if userCount > 0 {
		return nil, "", "", ErrInviteEmailInUse
	}

	if _, err := s.FindActiveByEmail(ctx, email); err == nil {
		return nil, "", "", ErrInviteAlreadyPending
	} else if !errors.Is(err, ErrInviteNotFound) {
		return nil, "", "", err
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", "", fmt.Errorf("invite service: generate token: %w", err)
	}

	now := s.now()
	expiry := s.expiry
	if input.TTL > 0 {
		expiry = input.TTL
	}

	invite := models.Invitation{
		Email:       email,
		TokenHash:   crypto.TokenDigest(rawToken),
		Role:        role,
		ExpiresAt:   now.Add(expiry),
		InvitedByID: input.InvitedByID,
	}

	if err := s.db.WithContext(ctx).Create(&invite).Error; err != nil {
		return nil, "", "", fmt.Errorf("invite service: create invitation: %w", err)
	}

	link := s.InviteLink(rawToken)
	s.dispatchInvite(ctx, &invite, link)
	metrics.InvitesIssued.WithLabelValues(role).Inc()

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  input.InvitedByID,
		Action:   "invite.create",
		Resource: invite.ID,
		Result:   "success",
		Metadata: map[string]any{"email": email, "role": role},
	})

	return &invite, rawToken, link, nil
}

// FindActiveByToken resolves a plain invitation token to its active
// invitation. Accepted and expired invitations are reported distinctly so
// management flows can explain the state; registration maps all failures to
// a single unauthorized response.
func (s *InviteService) FindActiveByToken(ctx context.Context, token string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInviteNotFound
	}

	var invite models.Invitation
	if err := s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.TokenDigest(token)).
		First(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("invite service: find invitation: %w", err)
	}

	if invite.IsAccepted {
		return nil, ErrInviteAlreadyUsed
	}
	if !invite.ExpiresAt.After(s.now()) {
		return nil, ErrInviteExpired
	}

	return &invite, nil
}

// FindActiveByEmail returns the unaccepted, unexpired invitation for the
// email if one exists.
func (s *InviteService) FindActiveByEmail(ctx context.Context, email string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	var invite models.Invitation
	err := s.db.WithContext(ctx).
		Where("email = ? AND is_accepted = ? AND expires_at > ?", models.NormalizeEmail(email), false, s.now()).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invite service: find invitation by email: %w", err)
	}

	return &invite, nil
}

// Accept marks the invitation consumed. It must run on the caller's
// transaction handle so acceptance commits atomically with the user row it
// authorised. The conditional write guarantees at most one registration wins
// a token, no matter how many race for it.
func (s *InviteService) Accept(tx *gorm.DB, invitationID string, now time.Time) error {
	if tx == nil {
		return errors.New("invite service: transaction handle is required")
	}

	result := tx.Model(&models.Invitation{}).
		Where("id = ? AND is_accepted = ?", invitationID, false).
		Updates(map[string]any{"is_accepted": true, "accepted_at": now})
	if result.Error != nil {
		return fmt.Errorf("invite service: accept invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInviteAlreadyUsed
	}

	return nil
}

// Resend regenerates the token and expiry of a pending invitation and
// dispatches it again. Accepted invitations cannot be reissued.
func (s *InviteService) Resend(ctx context.Context, invitationID string) (*models.Invitation, string, string, error) {
	ctx = ensureContext(ctx)

	var invite models.Invitation
	if err := s.db.WithContext(ctx).First(&invite, "id = ?", invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", "", ErrInviteNotFound
		}
		return nil, "", "", fmt.Errorf("invite service: load invitation: %w", err)
	}
	if invite.IsAccepted {
		return nil, "", "", ErrInviteAlreadyUsed
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", "", fmt.Errorf("invite service: generate token: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	result := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND is_accepted = ?", invite.ID, false).
		Updates(map[string]any{"token_hash": crypto.TokenDigest(rawToken), "expires_at": expiresAt})
	if result.Error != nil {
		return nil, "", "", fmt.Errorf("invite service: reissue invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, "", "", ErrInviteAlreadyUsed
	}

	invite.TokenHash = crypto.TokenDigest(rawToken)
	invite.ExpiresAt = expiresAt

	link := s.InviteLink(rawToken)
	s.dispatchInvite(ctx, &invite, link)
	metrics.InvitesIssued.WithLabelValues(invite.Role).Inc()

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "invite.resend",
		Resource: invite.ID,
		Result:   "success",
		Metadata: map[string]any{"email": invite.Email},
	})

	return &invite, rawToken, link, nil
}

// ListInvitationsOptions controls pagination and filtering for invitation queries.
type ListInvitationsOptions struct {
	Page     int
	PageSize int
	// Status filters by lifecycle state: pending, accepted or expired.
	// Empty means all.
	Status string
	Email  string
}

// List returns invitations matching the supplied filters, newest first.
func (s *InviteService) List(ctx context.Context, opts ListInvitationsOptions) ([]models.Invitation, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Invitation{})

	switch strings.ToLower(strings.TrimSpace(opts.Status)) {
	case "pending":
		query = query.Where("is_accepted = ? AND expires_at > ?", false, s.now())
	case "accepted":
		query = query.Where("is_accepted = ?", true)
	case "expired":
		query = query.Where("is_accepted = ? AND expires_at <= ?", false, s.now())
	case "":
	default:
		return nil, 0, fmt.Errorf("invite service: unknown status filter %q", opts.Status)
	}

	if email := models.NormalizeEmail(opts.Email); email != "" {
		query = query.Where("email = ?", email)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("invite service: count invitations: %w", err)
	}

	var invites []models.Invitation
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Preload("InvitedBy").
		Find(&invites).Error; err != nil {
		return nil, 0, fmt.Errorf("invite service: list invitations: %w", err)
	}

	return invites, total, nil
}

// Revoke removes a pending invitation so its token can never be redeemed.
// Accepted invitations are part of the registration record and stay.
func (s *InviteService) Revoke(ctx context.Context, invitationID string) error {
	ctx = ensureContext(ctx)

	var invite models.Invitation
	if err := s.db.WithContext(ctx).First(&invite, "id = ?", invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInviteNotFound
		}
		return fmt.Errorf("invite service: load invitation: %w", err)
	}
	if invite.IsAccepted {
		return ErrInviteAlreadyUsed
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND is_accepted = ?", invite.ID, false).
		Delete(&models.Invitation{})
	if result.Error != nil {
		return fmt.Errorf("invite service: revoke invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInviteAlreadyUsed
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "invite.revoke",
		Resource: invite.ID,
		Result:   "success",
		Metadata: map[string]any{"email": invite.Email},
	})

	return nil
}

// CleanupExpired deletes unaccepted invitations whose expiry passed more
// than the grace window ago. Used by the maintenance scheduler.
func (s *InviteService) CleanupExpired(ctx context.Context, grace time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	if grace < 0 {
		return 0, errors.New("invite service: grace must not be negative")
	}

	cutoff := s.now().Add(-grace)
	result := s.db.WithContext(ctx).
		Where("is_accepted = ? AND expires_at < ?", false, cutoff).
		Delete(&models.Invitation{})
	if result.Error != nil {
		return 0, fmt.Errorf("invite service: cleanup invitations: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// InviteLink renders the registration URL for a plain token. Without a
// configured base URL the bare token is returned.
func (s *InviteService) InviteLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/register?token=%s", s.baseURL, token)
}

// dispatchInvite hands the invitation to the notification service. Delivery
// is fire-and-forget: failures are logged and never abort the invitation.
func (s *InviteService) dispatchInvite(ctx context.Context, invite *models.Invitation, link string) {
	if s.notifier == nil {
		return
	}

	msgType := notifications.TypeUserInvitation
	if invite.Role == models.RoleAdmin {
		msgType = notifications.TypeAdminInvitation
	}

	err := s.notifier.Send(ctx, notifications.Message{
		Type:      msgType,
		Recipient: invite.Email,
		Data: map[string]any{
			"link":       link,
			"role":       invite.Role,
			"expires_at": invite.ExpiresAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		s.log.Warn("invitation notification dispatch failed",
			zap.String("invitation_id", invite.ID),
			zap.Error(err),
		)
	}
}
