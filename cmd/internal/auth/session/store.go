package session

import (
	"context"
	"net"
	"time"
)

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// Row mirrors the gate.sessions row used by the session subsystem.
type Row struct {
	ID                  string
	UserID              string
	Role                string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
}

// NextSession describes the replacement session minted during rotation.
// The store allocates the new session ID.
type NextSession struct {
	RefreshHash string
	ExpiresAt   time.Time
	Device      DeviceContext
}

// RotateResult reports both halves of a completed rotation.
type RotateResult struct {
	Old Row
	New Row
}

// Store abstracts persistence for session state.
//
// Rotate is the only compound operation: implementations must make the
// lookup-decide-replace sequence atomic with respect to concurrent Rotate
// calls presenting the same hash, so a raced double-submit yields exactly one
// winner. Outcomes:
//   - hash unknown                      -> ErrSessionNotFound
//   - session past expiry               -> ErrSessionExpired
//   - session revoked, not replaced     -> ErrSessionRevoked
//   - session revoked and replaced      -> ReuseError (after revoking every
//     session of the user, in the same atomic step)
//   - otherwise                         -> new row created, old row revoked
//     and linked via ReplacedBySessionID, both returned.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, now time.Time, userID, role string, dev DeviceContext, refreshHash string, expiresAt time.Time) (sessionID string, err error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// GetByRefreshHash loads a session row by refresh token hash.
	GetByRefreshHash(ctx context.Context, refreshHash string) (Row, error)

	// Rotate atomically replaces the session matching refreshHash with next.
	Rotate(ctx context.Context, now time.Time, refreshHash string, next NextSession) (RotateResult, error)

	// Revoke revokes a single session (idempotent).
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes all sessions for a user (idempotent).
	RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error
}
