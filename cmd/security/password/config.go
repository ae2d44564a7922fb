package password

import (
	"os"
	"strconv"
	"strings"
)

// Argon2idParams defines the Argon2id hashing cost parameters.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy defines the accepted password shape.
//
// The character-class requirements mirror what the registration form enforces
// client-side, so server and client never disagree about validity.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
}

// Config bundles hashing parameters with the policy.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns production-reasonable Argon2id costs and the default
// policy (6-50 chars, at least one upper, one lower, one digit).
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:    6,
			MaxLength:    50,
			RequireUpper: true,
			RequireLower: true,
			RequireDigit: true,
		},
	}
}

// FromEnv loads Config from environment variables, falling back to defaults.
//
// Optional:
//   - GATE_PW_MEMORY_KIB, GATE_PW_ITERATIONS, GATE_PW_PARALLELISM
//   - GATE_PW_MIN_LENGTH, GATE_PW_MAX_LENGTH
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := envUint32("GATE_PW_MEMORY_KIB"); ok {
		if v < 8*1024 || v > 1024*1024 {
			return Config{}, ErrInvalidConfig
		}
		cfg.Params.MemoryKiB = v
	}
	if v, ok := envUint32("GATE_PW_ITERATIONS"); ok {
		if v < 1 || v > 16 {
			return Config{}, ErrInvalidConfig
		}
		cfg.Params.Iterations = v
	}
	if v, ok := envUint32("GATE_PW_PARALLELISM"); ok {
		if v < 1 || v > 8 {
			return Config{}, ErrInvalidConfig
		}
		cfg.Params.Parallelism = uint8(v)
	}
	if v, ok := envUint32("GATE_PW_MIN_LENGTH"); ok {
		if v < 6 || v > 64 {
			return Config{}, ErrInvalidConfig
		}
		cfg.Policy.MinLength = int(v)
	}
	if v, ok := envUint32("GATE_PW_MAX_LENGTH"); ok {
		if int(v) < cfg.Policy.MinLength || v > 256 {
			return Config{}, ErrInvalidConfig
		}
		cfg.Policy.MaxLength = int(v)
	}

	return cfg, nil
}

func envUint32(key string) (uint32, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
