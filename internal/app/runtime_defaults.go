package app

import (
	"fmt"
	"strings"

	"github.com/datapult/datapult/pkg/crypto"
)

const (
	jwtSecretBytes    = 48
	serviceTokenBytes = 32
)

// ApplyRuntimeDefaults ensures critical secrets are populated even when no
// configuration file is supplied. It returns a map describing which keys were
// generated so callers can log the event without exposing values.
//
// Generated secrets do not survive a restart: tokens issued before the
// restart stop verifying. Production deployments should pin all three.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.AccessSecret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate access secret: %w", err)
		}
		cfg.Auth.JWT.AccessSecret = secret
		generated["auth.jwt.access_secret"] = true
	}

	if strings.TrimSpace(cfg.Auth.JWT.RefreshSecret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate refresh secret: %w", err)
		}
		cfg.Auth.JWT.RefreshSecret = secret
		generated["auth.jwt.refresh_secret"] = true
	}

	if strings.TrimSpace(cfg.Auth.ServiceToken) == "" {
		secret, err := crypto.GenerateToken(serviceTokenBytes)
		if err != nil {
			return nil, fmt.Errorf("generate service token: %w", err)
		}
		cfg.Auth.ServiceToken = secret
		generated["auth.service_token"] = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return generated, nil
}
