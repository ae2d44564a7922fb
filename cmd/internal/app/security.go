package app

import (
	"errors"

	"gate/cmd/security/token"
)

// ValidateSecurityConfig enforces gate's security policy at startup.
// Fail-fast is intentional: silently hashing stored refresh tokens with
// plain SHA-256 when the deployment demands HMAC is unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// The key is used as raw bytes, so the minimum is measured in bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: GATE_REQUIRE_TOKEN_HMAC=true but GATE_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: GATE_REQUIRE_TOKEN_HMAC=true but GATE_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: GATE_REQUIRE_TOKEN_HMAC=true but the token hasher is not in HMAC mode")
	}

	return nil
}
