package session

import (
	"errors"
	"testing"
	"time"
)

func testTokenConfig() Config {
	cfg := DefaultConfig()
	cfg.SigningSecret = testSigningSecret
	return cfg
}

func TestHS256_IssueAndVerify(t *testing.T) {
	mgr, err := NewHS256Manager(testTokenConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "USER", "01HYYYYYYYYYYYYYYYYYYYYYYY", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" {
		t.Fatalf("user mismatch: %q", claims.UserID)
	}
	if claims.Role != "USER" {
		t.Fatalf("role mismatch: %q", claims.Role)
	}
	if claims.SessionID != "01HYYYYYYYYYYYYYYYYYYYYYYY" {
		t.Fatalf("session mismatch: %q", claims.SessionID)
	}
}

func TestHS256_Verify_Expired(t *testing.T) {
	mgr, err := NewHS256Manager(testTokenConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := mgr.Issue("u1", "USER", "s1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Past expiry plus clock skew.
	later := now.Add(16*time.Minute + time.Minute)
	if _, err := mgr.Verify(tok, later); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestHS256_Verify_WithinClockSkew(t *testing.T) {
	mgr, err := NewHS256Manager(testTokenConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("u1", "USER", "s1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Just past nominal expiry but inside the 30s leeway.
	if _, err := mgr.Verify(tok, exp.Add(10*time.Second)); err != nil {
		t.Fatalf("expected leeway to cover small skew, got %v", err)
	}
}

func TestHS256_Verify_WrongKey(t *testing.T) {
	mgr, err := NewHS256Manager(testTokenConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	otherCfg := testTokenConfig()
	otherCfg.SigningSecret = "ffffffffffffffffffffffffffffffff"
	other, err := NewHS256Manager(otherCfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := other.Issue("u1", "USER", "s1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := mgr.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestHS256_Verify_Garbage(t *testing.T) {
	mgr, err := NewHS256Manager(testTokenConfig())
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := mgr.Verify(tok, time.Now().UTC()); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestHS256_RejectsShortSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SigningSecret = "short"
	if _, err := NewHS256Manager(cfg); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
