package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL, refresh-token TTL, clock skew tolerance,
// refresh entropy size, and the JWT signing secret. Intentionally explicit
// and environment-driven so deployments can tune security parameters without
// code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of JWT access tokens.
	AccessTokenTTL time.Duration

	// RefreshTTL defines the lifetime of the rotating refresh token.
	RefreshTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int

	// SigningSecret is the HS256 key for access tokens (min 32 bytes).
	SigningSecret string
}

// DefaultConfig returns a secure default configuration suitable for development.
// The signing secret has no default; production must set it via env.
func DefaultConfig() Config {
	return Config{
		Issuer:            "gate",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - GATE_AUTH_SIGNING_SECRET (>= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - GATE_AUTH_ISSUER
//   - GATE_AUTH_ACCESS_TTL
//   - GATE_AUTH_REFRESH_TTL
//   - GATE_AUTH_CLOCK_SKEW
//   - GATE_AUTH_REFRESH_TOKEN_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("GATE_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("GATE_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("GATE_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("GATE_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("GATE_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.SigningSecret = strings.TrimSpace(os.Getenv("GATE_AUTH_SIGNING_SECRET"))
	if len(cfg.SigningSecret) < 32 {
		return Config{}, ErrConfig
	}

	// Access tokens must always be the short-lived half of the pair.
	if cfg.AccessTokenTTL >= cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
