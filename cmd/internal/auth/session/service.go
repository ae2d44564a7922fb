package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RevocationNotifier receives session revocation events for fan-out to
// connected clients. Implementations must not block.
type RevocationNotifier interface {
	SessionRevoked(userID, sessionID, reason string)
	AllSessionsRevoked(userID, reason string)
}

// Service implements the high-level session operations.
//
// It issues sessions (access + refresh), validates access tokens,
// supports per-session and per-user revocation, and performs refresh rotation
// with reuse detection. Atomicity of rotation is the store's contract, so the
// service stays backend-agnostic.
type Service struct {
	cfg      Config
	tokens   AccessTokenManager
	store    Store
	notifier RevocationNotifier
}

// Issued is the result of issuing or rotating a session.
// It includes a short-lived access token and an opaque refresh token.
type Issued struct {
	SessionID    string
	UserID       string
	Role         string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service with the provided configuration, store, and
// token manager.
func NewService(cfg Config, store Store, tokens AccessTokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

// SetNotifier registers an optional revocation notifier. Must be called
// before the service starts handling requests.
func (s *Service) SetNotifier(n RevocationNotifier) { s.notifier = n }

// Issue creates a new session row and returns fresh tokens.
//
// Refresh tokens are opaque random strings and must never be persisted in
// plaintext. Only the hash (hex) is stored.
func (s *Service) Issue(ctx context.Context, now time.Time, userID, role string, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	refreshExp := now.Add(s.cfg.RefreshTTL)

	sessionID, err := s.store.Create(ctx, now, userID, role, dev, refreshHash, refreshExp)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(userID, role, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		UserID:       userID,
		Role:         role,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyAccess verifies an access token without touching storage.
//
// Validity is proven solely by signature and expiry. A revoked session keeps
// its outstanding access token usable until that token expires, which is why
// access tokens stay short-lived.
func (s *Service) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(token, now)
}

// Rotate performs refresh rotation with reuse detection.
//
// Security model:
//   - The store resolves and replaces the session atomically, so a raced
//     double-submit of one refresh token yields exactly one winner.
//   - A rotated token presented again is reuse: every session of the user is
//     revoked and ErrRefreshReuseDetected surfaces (as a ReuseError).
//   - A token of a revoked-but-not-replaced session means plain logout and
//     yields ErrSessionRevoked.
func (s *Service) Rotate(ctx context.Context, now time.Time, refreshTokenPlain string, dev DeviceContext) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, ErrSessionNotFound
	}

	refreshHash := hashRefreshTokenHex(refreshTokenPlain)

	newRefreshPlain, newRefreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	newRefreshExp := now.Add(s.cfg.RefreshTTL)

	res, err := s.store.Rotate(ctx, now, refreshHash, NextSession{
		RefreshHash: newRefreshHash,
		ExpiresAt:   newRefreshExp,
		Device:      dev,
	})
	if err != nil {
		var reuse ReuseError
		if errors.As(err, &reuse) && s.notifier != nil {
			s.notifier.AllSessionsRevoked(reuse.UserID, "reuse_detected")
		}
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(res.New.UserID, res.New.Role, res.New.ID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    res.New.ID,
		UserID:       res.New.UserID,
		Role:         res.New.Role,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newRefreshPlain,
		RefreshExp:   newRefreshExp,
	}, nil
}

// RevokeByRefreshToken revokes the session matching a presented refresh token
// (logout). Unknown, expired, and already-revoked tokens are all fine: logout
// is idempotent.
func (s *Service) RevokeByRefreshToken(ctx context.Context, now time.Time, refreshTokenPlain string) error {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return nil
	}

	row, err := s.store.GetByRefreshHash(ctx, hashRefreshTokenHex(refreshTokenPlain))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.Revoke(ctx, now, row.ID, "logout"); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.SessionRevoked(row.UserID, row.ID, "logout")
	}
	return nil
}

// Revoke revokes a single session by ID.
func (s *Service) Revoke(ctx context.Context, now time.Time, sessionID string) error {
	row, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.Revoke(ctx, now, sessionID, "logout"); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.SessionRevoked(row.UserID, sessionID, "logout")
	}
	return nil
}

// RevokeAll revokes all sessions for a user (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	if err := s.store.RevokeAll(ctx, now, userID, "logout_all"); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.AllSessionsRevoked(userID, "logout_all")
	}
	return nil
}
