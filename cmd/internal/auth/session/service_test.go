package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()

	cfg := testTokenConfig()
	mgr, err := NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}
	store := NewMemoryStore()
	return NewService(cfg, store, mgr), store
}

func TestService_IssueAndVerify(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{UserAgent: "test"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", issued)
	}
	if !issued.RefreshExp.After(issued.AccessExp) {
		t.Fatalf("refresh must outlive access: %v vs %v", issued.RefreshExp, issued.AccessExp)
	}

	claims, err := svc.VerifyAccess(issued.AccessToken, now)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != "u1" || claims.SessionID != issued.SessionID {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestService_Rotate_OldTokenDies(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := svc.Rotate(ctx, now.Add(time.Minute), issued.RefreshToken, DeviceContext{})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.SessionID == issued.SessionID {
		t.Fatalf("rotation must mint a new session id")
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("rotation must mint a new refresh token")
	}

	// The consumed token is now reuse and kills every session of the user.
	_, err = svc.Rotate(ctx, now.Add(2*time.Minute), issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected reuse detection, got %v", err)
	}
	var reuse ReuseError
	if !errors.As(err, &reuse) || reuse.UserID != "u1" {
		t.Fatalf("expected ReuseError for u1, got %v", err)
	}

	// Mass revocation includes the rotation winner.
	_, err = svc.Rotate(ctx, now.Add(3*time.Minute), rotated.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected winner revoked after reuse, got %v", err)
	}
}

func TestService_Rotate_UnknownToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Rotate(context.Background(), time.Now().UTC(), "never-issued", DeviceContext{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_Rotate_ExpiredSession(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	past := now.Add(8 * 24 * time.Hour)
	if _, err := svc.Rotate(ctx, past, issued.RefreshToken, DeviceContext{}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestService_Rotate_RevokedSession(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.RevokeByRefreshToken(ctx, now, issued.RefreshToken); err != nil {
		t.Fatalf("RevokeByRefreshToken: %v", err)
	}

	if _, err := svc.Rotate(ctx, now.Add(time.Minute), issued.RefreshToken, DeviceContext{}); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after logout, got %v", err)
	}
}

func TestService_Rotate_RacedDoubleSubmit_OneWinner(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Rotate(ctx, now.Add(time.Second), issued.RefreshToken, DeviceContext{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", wins)
	}
}

func TestService_RevokeByRefreshToken_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	// Unknown token is a no-op.
	if err := svc.RevokeByRefreshToken(ctx, now, "never-issued"); err != nil {
		t.Fatalf("unknown token: %v", err)
	}

	issued, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.RevokeByRefreshToken(ctx, now, issued.RefreshToken); err != nil {
			t.Fatalf("RevokeByRefreshToken: %v", err)
		}
	}
}

func TestService_RevokeAll(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	a, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.RevokeAll(ctx, now, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := svc.Rotate(ctx, now.Add(time.Minute), tok, DeviceContext{}); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	sessions []string
	users    []string
}

func (r *recordingNotifier) SessionRevoked(userID, sessionID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
}

func (r *recordingNotifier) AllSessionsRevoked(userID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
}

func TestService_NotifierFanOut(t *testing.T) {
	svc, _ := newTestService(t)
	rec := &recordingNotifier{}
	svc.SetNotifier(rec)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "u1", "USER", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.RevokeByRefreshToken(ctx, now, issued.RefreshToken); err != nil {
		t.Fatalf("RevokeByRefreshToken: %v", err)
	}
	if err := svc.RevokeAll(ctx, now, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sessions) != 1 || rec.sessions[0] != issued.SessionID {
		t.Fatalf("expected one session event, got %v", rec.sessions)
	}
	if len(rec.users) != 1 || rec.users[0] != "u1" {
		t.Fatalf("expected one user event, got %v", rec.users)
	}
}
