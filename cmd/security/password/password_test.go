package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	// Keep tests fast; verification bounds still apply.
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func TestHashAndVerify_RoundTrip(t *testing.T) {
	cfg := testConfig()

	hash, err := cfg.Hash("Abcdef1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Fatalf("unexpected hash format: %q", hash)
	}

	ok, err := cfg.Verify(hash, "Abcdef1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}

	ok, err = cfg.Verify(hash, "Abcdef2")
	if err != nil {
		t.Fatalf("Verify mismatch: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestHash_SaltsDiffer(t *testing.T) {
	cfg := testConfig()

	a, err := cfg.Hash("Abcdef1")
	if err != nil {
		t.Fatalf("Hash a: %v", err)
	}
	b, err := cfg.Hash("Abcdef1")
	if err != nil {
		t.Fatalf("Hash b: %v", err)
	}
	if a == b {
		t.Fatalf("two hashes of the same password must differ (random salt)")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	cfg := testConfig()

	for _, bad := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8,t=1,p=1$AAAA$BBBB",
		"$argon2id$v=18$m=8,t=1,p=1$AAAA$BBBB",
		"$argon2id$v=19$m=999999999,t=99,p=99$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	} {
		if _, err := cfg.Verify(bad, "Abcdef1"); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("hash %q: expected ErrInvalidHash, got %v", bad, err)
		}
	}
}

func TestValidate_Policy(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name     string
		password string
		want     error
	}{
		{"valid", "Abcdef1", nil},
		{"too short", "Ab1", ErrPasswordTooShort},
		{"too long", strings.Repeat("Aa1", 20), ErrPasswordTooLong},
		{"no upper", "abcdef1", ErrMissingUpper},
		{"no lower", "ABCDEF1", ErrMissingLower},
		{"no digit", "Abcdefg", ErrMissingDigit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cfg.Validate(tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate(%q) = %v, want %v", tc.password, err, tc.want)
			}
			if tc.want != nil && !IsPolicyViolation(err) {
				t.Fatalf("expected %v to be a policy violation", err)
			}
		})
	}
}
