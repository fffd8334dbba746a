package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/datapult/datapult/internal/models"
)

// Token types embedded in every issued credential. The type claim is a
// second guard independent of the per-type signing secret.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Fallback validity periods. Access tokens are short-lived; refresh tokens
// run on a days scale.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

var (
	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and
	// issuer/audience mismatches.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrTokenTypeMismatch signals a structurally valid token presented
	// for the wrong purpose, e.g. a refresh token on an access check.
	ErrTokenTypeMismatch = errors.New("auth: token type mismatch")
)

// TokenConfig bundles the configuration required to build a TokenService.
// Access and refresh secrets must never be shared between deployments;
// distinctness is enforced at the configuration layer.
type TokenConfig struct {
	AccessSecret    string
	RefreshSecret   string
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// Claims represents the custom claims embedded in issued tokens. The role
// claim is present on access tokens only. Refresh tokens carry a fresh
// unique identifier in the registered jti claim.
type Claims struct {
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair bundles a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenService issues and verifies the two bearer token classes. Each class
// is signed with its own secret so a leaked access token cannot be replayed
// against the refresh endpoint even though the claim shapes overlap.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenService constructs a TokenService from the supplied configuration.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("auth: access secret must be provided")
	}
	if cfg.RefreshSecret == "" {
		return nil, errors.New("auth: refresh secret must be provided")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           now,
	}, nil
}

// IssueAccessToken signs a short-lived token carrying the user's role.
func (s *TokenService) IssueAccessToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("auth: user id is required")
	}
	return s.issue(user.ID, user.Role, TokenTypeAccess, "", s.accessSecret, s.accessTTL)
}

// IssueRefreshToken signs a long-lived token with a fresh unique identifier
// per call. No reuse-detection store exists: a prior refresh token stays
// valid until its natural expiry.
func (s *TokenService) IssueRefreshToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("auth: user id is required")
	}
	return s.issue(user.ID, "", TokenTypeRefresh, uuid.NewString(), s.refreshSecret, s.refreshTTL)
}

// IssuePair signs a fresh access/refresh pair for the user.
func (s *TokenService) IssuePair(user *models.User) (TokenPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess validates a token against the access secret and type.
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret, TokenTypeAccess)
}

// VerifyRefresh validates a token against the refresh secret and type.
func (s *TokenService) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.refreshSecret, TokenTypeRefresh)
}

func (s *TokenService) issue(userID, role, tokenType, uniqueID string, secret []byte, ttl time.Duration) (string, error) {
	now := s.now()

	claims := &Claims{
		Role:      role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	if uniqueID != "" {
		claims.ID = uniqueID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign %s token: %w", tokenType, err)
	}

	return signed, nil
}

func (s *TokenService) verify(tokenString string, secret []byte, wantType string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrTokenInvalid
	}
	if s.audience != "" && !hasAudience(claims.Audience, s.audience) {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != wantType {
		return nil, ErrTokenTypeMismatch
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return &claims, nil
}

func hasAudience(audience jwt.ClaimStrings, want string) bool {
	for _, aud := range audience {
		if aud == want {
			return true
		}
	}
	return false
}
