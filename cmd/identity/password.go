package identity

import (
	"gate/cmd/security/password"
)

// HashPassword returns a PHC-style Argon2id hash string, enforcing the
// configured password policy first.
func HashPassword(plain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Hash(plain)
}

// VerifyPassword checks plain against an encoded Argon2id hash.
func VerifyPassword(plain, encodedHash string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		cfg = password.DefaultConfig()
	}
	return cfg.Verify(encodedHash, plain)
}

// ValidatePassword applies the password policy without hashing.
func ValidatePassword(plain string) error {
	cfg, err := password.FromEnv()
	if err != nil {
		cfg = password.DefaultConfig()
	}
	return cfg.Validate(plain)
}
