package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/datapult/datapult/internal/auth"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/notifications"
	"github.com/datapult/datapult/pkg/crypto"
	apperrors "github.com/datapult/datapult/pkg/errors"
	"github.com/datapult/datapult/pkg/logger"
	"github.com/datapult/datapult/pkg/metrics"
)

const (
	defaultResetExpiry     = time.Hour
	defaultResetTokenBytes = 48
)

// AuthOption customises AuthService behaviour.
type AuthOption func(*AuthService)

// WithAuthClock injects a custom time source.
func WithAuthClock(clock func() time.Time) AuthOption {
	return func(s *AuthService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLockoutPolicy overrides the login lockout thresholds.
func WithLockoutPolicy(policy auth.LockoutPolicy) AuthOption {
	return func(s *AuthService) {
		s.lockout = policy
	}
}

// WithResetExpiry overrides the password reset token lifetime.
func WithResetExpiry(d time.Duration) AuthOption {
	return func(s *AuthService) {
		if d > 0 {
			s.resetExpiry = d
		}
	}
}

// WithResetTokenSize adjusts the reset token length in bytes.
func WithResetTokenSize(size int) AuthOption {
	return func(s *AuthService) {
		if size > 0 {
			s.resetTokenLength = size
		}
	}
}

// WithAuthBaseURL configures the base URL used in password reset links.
func WithAuthBaseURL(url string) AuthOption {
	return func(s *AuthService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// AuthService implements the credential lifecycle: login with lockout,
// invitation-gated registration, token refresh, password recovery and token
// introspection. All state lives in the database; correctness under
// concurrent requests rests on conditional updates, not in-process locks.
type AuthService struct {
	db               *gorm.DB
	tokens           *auth.TokenService
	invites          *InviteService
	audit            *AuditService
	notifier         notifications.Sender
	lockout          auth.LockoutPolicy
	resetExpiry      time.Duration
	resetTokenLength int
	baseURL          string
	now              func() time.Time
	log              *zap.Logger
}

// NewAuthService constructs the orchestrator. The notifier and audit service
// may be nil.
func NewAuthService(db *gorm.DB, tokens *auth.TokenService, invites *InviteService, audit *AuditService, notifier notifications.Sender, opts ...AuthOption) (*AuthService, error) {
	if db == nil {
		return nil, errors.New("auth service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("auth service: token service is required")
	}
	if invites == nil {
		return nil, errors.New("auth service: invite service is required")
	}

	service := &AuthService{
		db:               db,
		tokens:           tokens,
		invites:          invites,
		audit:            audit,
		notifier:         notifier,
		lockout:          auth.NewLockoutPolicy(0, 0),
		resetExpiry:      defaultResetExpiry,
		resetTokenLength: defaultResetTokenBytes,
		now:              time.Now,
		log:              logger.WithModule("auth"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Login verifies credentials and issues a token pair. Unknown emails and
// wrong passwords fail with the same generic message so callers cannot probe
// which accounts exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, *auth.TokenPair, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", models.NormalizeEmail(email)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("auth service: find user: %w", err)
	}

	if s.lockout.ClearExpiredLock(&user, now) {
		if err := s.persistLockoutReset(ctx, user.ID); err != nil {
			return nil, nil, err
		}
	}

	if s.lockout.IsLocked(&user, now) {
		metrics.AuthAttempts.WithLabelValues("locked").Inc()
		s.auditLogin(ctx, &user, "locked")
		return nil, nil, apperrors.NewUnauthorized(fmt.Sprintf(
			"Account is temporarily locked. Try again in %d minutes", s.lockout.RemainingMinutes(&user, now)))
	}

	if !user.IsActive || user.PasswordHash == nil || !crypto.VerifyPassword(*user.PasswordHash, password) {
		prior := user.FailedLoginAttempts
		s.lockout.OnFailure(&user, now)
		if err := s.persistLoginFailure(ctx, &user, prior); err != nil {
			return nil, nil, err
		}
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		s.auditLogin(ctx, &user, "failure")
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	s.lockout.OnSuccess(&user, now)
	if err := s.persistLoginSuccess(ctx, &user, now); err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.IssuePair(&user)
	if err != nil {
		return nil, nil, fmt.Errorf("auth service: issue tokens: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.auditLogin(ctx, &user, "success")

	return &user, &pair, nil
}

// RegisterInput carries the fields accepted when redeeming an invitation.
type RegisterInput struct {
	Token     string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Register redeems an invitation token and creates the account it
// authorises. User creation and invitation acceptance commit in one
// transaction; under concurrent redemption exactly one caller wins.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, *auth.TokenPair, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	invite, err := s.invites.FindActiveByToken(ctx, input.Token)
	if err != nil {
		if errors.Is(err, ErrInviteNotFound) || errors.Is(err, ErrInviteExpired) || errors.Is(err, ErrInviteAlreadyUsed) {
			return nil, nil, apperrors.NewUnauthorized("Invitation is invalid or has expired")
		}
		return nil, nil, err
	}

	if email := models.NormalizeEmail(input.Email); email != "" && email != invite.Email {
		return nil, nil, apperrors.NewForbidden("Invitation was issued for a different email address")
	}

	if strings.TrimSpace(input.Password) == "" {
		return nil, nil, apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("auth service: hash password: %w", err)
	}

	user := &models.User{
		Email:        invite.Email,
		PasswordHash: &hashed,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Role:         invite.Role,
		IsActive:     true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.invites.Accept(tx, invite.ID, now); err != nil {
			return err
		}
		return tx.Create(user).Error
	})
	if err != nil {
		if errors.Is(err, ErrInviteAlreadyUsed) {
			return nil, nil, apperrors.NewUnauthorized("Invitation is invalid or has expired")
		}
		if isUniqueConstraintError(err) {
			return nil, nil, apperrors.NewConflict("Email is already registered")
		}
		return nil, nil, fmt.Errorf("auth service: register user: %w", err)
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, nil, fmt.Errorf("auth service: issue tokens: %w", err)
	}

	metrics.Registrations.WithLabelValues(user.Role).Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &user.ID,
		Action:   "auth.register",
		Resource: user.ID,
		Result:   "success",
		Metadata: map[string]any{"email": user.Email, "role": user.Role, "invitation_id": invite.ID},
	})

	return user, &pair, nil
}

// RefreshToken exchanges a valid refresh token for a fresh pair. The old
// refresh token stays valid until its natural expiry; there is no
// revocation list.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	ctx = ensureContext(ctx)

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.NewUnauthorized("Refresh token has expired")
		}
		return nil, apperrors.NewUnauthorized("Refresh token is invalid")
	}

	var user models.User
	err = s.db.WithContext(ctx).First(&user, "id = ?", claims.Subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewUnauthorized("Account no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("auth service: find user: %w", err)
	}
	if !user.IsActive {
		return nil, apperrors.NewUnauthorized("Account is deactivated")
	}

	pair, err := s.tokens.IssuePair(&user)
	if err != nil {
		return nil, fmt.Errorf("auth service: issue tokens: %w", err)
	}

	return &pair, nil
}

// ForgotPassword begins password recovery. The response shape never reveals
// whether the email exists; a reset link is dispatched only when it does.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	now := s.now()

	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", models.NormalizeEmail(email)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Debug("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth service: find user: %w", err)
	}

	rawToken, err := crypto.GenerateToken(s.resetTokenLength)
	if err != nil {
		return fmt.Errorf("auth service: generate reset token: %w", err)
	}

	digest := crypto.TokenDigest(rawToken)
	expires := now.Add(s.resetExpiry)

	err = s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{"password_reset_token": digest, "password_reset_expires": expires}).Error
	if err != nil {
		return fmt.Errorf("auth service: store reset token: %w", err)
	}

	if s.notifier != nil {
		sendErr := s.notifier.Send(ctx, notifications.Message{
			Type:      notifications.TypePasswordReset,
			Recipient: user.Email,
			Data: map[string]any{
				"link":       s.resetLink(rawToken),
				"first_name": user.FirstName,
				"expires_at": expires.Format(time.RFC3339),
			},
		})
		if sendErr != nil {
			s.log.Warn("password reset notification dispatch failed",
				zap.String("user_id", user.ID),
				zap.Error(sendErr),
			)
		}
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &user.ID,
		Action:   "auth.forgot_password",
		Resource: user.ID,
		Result:   "success",
	})

	return nil
}

// ResetPassword consumes a reset token and installs the new password. The
// conditional update clears both reset fields in the same statement that
// checks them, so a token can be spent exactly once.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx = ensureContext(ctx)
	now := s.now()

	if strings.TrimSpace(newPassword) == "" {
		return apperrors.NewBadRequest("password is required")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.NewUnauthorized("Reset token is invalid or has expired")
	}
	digest := crypto.TokenDigest(token)

	var user models.User
	err := s.db.WithContext(ctx).
		Where("password_reset_token = ? AND password_reset_expires > ?", digest, now).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewUnauthorized("Reset token is invalid or has expired")
	}
	if err != nil {
		return fmt.Errorf("auth service: find reset token: %w", err)
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("auth service: hash password: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND password_reset_token = ?", user.ID, digest).
		Updates(map[string]any{
			"password_hash":          hashed,
			"password_reset_token":   nil,
			"password_reset_expires": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("auth service: reset password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewUnauthorized("Reset token is invalid or has expired")
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &user.ID,
		Action:   "auth.reset_password",
		Resource: user.ID,
		Result:   "success",
	})

	return nil
}

// TokenIntrospection is the tagged result of ValidateToken.
type TokenIntrospection struct {
	Valid     bool   `json:"valid"`
	TokenType string `json:"token_type,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ValidateToken classifies a bearer token of either kind. The gateway has a
// single introspection endpoint, so verification is attempted against the
// access secret first and the refresh secret second.
func (s *AuthService) ValidateToken(token string) TokenIntrospection {
	accessClaims, accessErr := s.tokens.VerifyAccess(token)
	if accessErr == nil {
		metrics.TokenValidations.WithLabelValues("access").Inc()
		return TokenIntrospection{
			Valid:     true,
			TokenType: auth.TokenTypeAccess,
			UserID:    accessClaims.Subject,
			Role:      accessClaims.Role,
		}
	}

	refreshClaims, refreshErr := s.tokens.VerifyRefresh(token)
	if refreshErr == nil {
		metrics.TokenValidations.WithLabelValues("refresh").Inc()
		return TokenIntrospection{
			Valid:     true,
			TokenType: auth.TokenTypeRefresh,
			UserID:    refreshClaims.Subject,
		}
	}

	metrics.TokenValidations.WithLabelValues("invalid").Inc()

	reason := "invalid"
	if errors.Is(accessErr, auth.ErrTokenExpired) || errors.Is(refreshErr, auth.ErrTokenExpired) {
		reason = "expired"
	}
	return TokenIntrospection{Valid: false, Reason: reason}
}

// CurrentUser loads the account behind an authenticated request.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewUnauthorized("Account no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("auth service: find user: %w", err)
	}
	if !user.IsActive {
		return nil, apperrors.NewUnauthorized("Account is deactivated")
	}

	return &user, nil
}

func (s *AuthService) resetLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
}

// persistLoginFailure records an incremented failure counter. The write is
// conditioned on the counter we read so concurrent failures cannot stack
// lock extensions; losing the race drops our increment.
func (s *AuthService) persistLoginFailure(ctx context.Context, user *models.User, priorAttempts int) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND failed_login_attempts = ?", user.ID, priorAttempts).
		Updates(map[string]any{
			"failed_login_attempts": user.FailedLoginAttempts,
			"locked_until":          user.LockedUntil,
		})
	if result.Error != nil {
		return fmt.Errorf("auth service: record failed login: %w", result.Error)
	}
	return nil
}

func (s *AuthService) persistLoginSuccess(ctx context.Context, user *models.User, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"last_login":            now,
		}).Error
	if err != nil {
		return fmt.Errorf("auth service: record login: %w", err)
	}
	return nil
}

func (s *AuthService) persistLockoutReset(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"failed_login_attempts": 0, "locked_until": nil}).Error
	if err != nil {
		return fmt.Errorf("auth service: clear expired lock: %w", err)
	}
	return nil
}

func (s *AuthService) auditLogin(ctx context.Context, user *models.User, result string) {
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &user.ID,
		Action:   "auth.login",
		Resource: user.ID,
		Result:   result,
	})
}
