package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured and
// by unit tests. A single mutex covers every operation, so Rotate's
// lookup-decide-replace sequence is trivially atomic.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Row
	byHash map[string]string // refresh hash -> session id
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Row),
		byHash: make(map[string]string),
	}
}

// Create inserts a new session row.
func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID, role string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := newSessionID()

	s.mu.Lock()
	defer s.mu.Unlock()

	row := &Row{
		ID:               id,
		UserID:           userID,
		Role:             role,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
	}
	s.byID[id] = row
	s.byHash[refreshHash] = id

	return id, nil
}

// GetByID loads a session row by ID.
func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *row, nil
}

// GetByRefreshHash loads a session row by refresh token hash.
func (s *MemoryStore) GetByRefreshHash(ctx context.Context, refreshHash string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[refreshHash]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *s.byID[id], nil
}

// Rotate atomically replaces the session matching refreshHash with next.
func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, refreshHash string, next NextSession) (RotateResult, error) {
	if err := ctx.Err(); err != nil {
		return RotateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[refreshHash]
	if !ok {
		return RotateResult{}, ErrSessionNotFound
	}
	old := s.byID[id]

	if !old.ExpiresAt.After(now) {
		return RotateResult{}, ErrSessionExpired
	}

	// Reuse detection: a rotated token presented again is a security
	// incident; kill every session of the user.
	if old.RevokedAt != nil && old.ReplacedBySessionID != nil {
		s.revokeAllLocked(now, old.UserID, "reuse_detected")
		return RotateResult{}, ReuseError{UserID: old.UserID}
	}
	if old.RevokedAt != nil {
		return RotateResult{}, ErrSessionRevoked
	}

	newID := newSessionID()
	newRow := &Row{
		ID:               newID,
		UserID:           old.UserID,
		Role:             old.Role,
		RefreshTokenHash: next.RefreshHash,
		CreatedAt:        now,
		ExpiresAt:        next.ExpiresAt,
	}
	s.byID[newID] = newRow
	s.byHash[next.RefreshHash] = newID

	revokedAt := now
	replacedBy := newID
	old.RevokedAt = &revokedAt
	old.ReplacedBySessionID = &replacedBy
	old.LastUsedAt = &revokedAt

	return RotateResult{Old: *old, New: *newRow}, nil
}

// Revoke revokes a single session (idempotent).
func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[sessionID]
	if !ok {
		return nil
	}
	if row.RevokedAt == nil {
		revokedAt := now
		row.RevokedAt = &revokedAt
	}
	return nil
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked(now, userID, reason)
	return nil
}

func (s *MemoryStore) revokeAllLocked(now time.Time, userID string, reason string) {
	for _, row := range s.byID {
		if row.UserID != userID || row.RevokedAt != nil {
			continue
		}
		revokedAt := now
		row.RevokedAt = &revokedAt
	}
}
