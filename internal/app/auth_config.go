package app

import (
	"github.com/datapult/datapult/internal/auth"
)

// TokenServiceConfig converts AuthConfig into the parameters expected by the
// token service. TTL defaulting lives in auth.NewTokenService.
func (c AuthConfig) TokenServiceConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:    c.JWT.AccessSecret,
		RefreshSecret:   c.JWT.RefreshSecret,
		Issuer:          c.JWT.Issuer,
		Audience:        c.JWT.Audience,
		AccessTokenTTL:  c.JWT.AccessTokenTTL,
		RefreshTokenTTL: c.JWT.RefreshTokenTTL,
	}
}

// LockoutPolicy converts the local auth settings into a lockout policy.
// Non-positive values fall back to the policy defaults.
func (c AuthConfig) LockoutPolicy() auth.LockoutPolicy {
	return auth.NewLockoutPolicy(c.Local.LockoutThreshold, c.Local.LockoutDuration)
}
