package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Rotate is fully atomic and serialized via SELECT ... FOR UPDATE on the
// session row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the session store (default "gate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("session: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "gate",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) sessions() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

const sessionColumns = `
	id, user_id, role, refresh_token_hash,
	created_at, last_used_at, expires_at, revoked_at,
	replaced_by_session_id`

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID, role string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	id := newSessionID()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.sessions()+` (
			id, user_id, role, refresh_token_hash,
			created_at, expires_at, user_agent, ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, userID, role, refreshHash, now, expiresAt, nullIfEmpty(dev.UserAgent), dev.IP)
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	row, err := scanSessionRow(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.sessions()+`
		WHERE id = $1
	`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// GetByRefreshHash loads a session row by refresh token hash.
func (s *PostgresStore) GetByRefreshHash(ctx context.Context, refreshHash string) (Row, error) {
	row, err := scanSessionRow(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.sessions()+`
		WHERE refresh_token_hash = $1
	`, refreshHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Rotate performs refresh rotation with reuse detection inside a single
// transaction. The session row is locked by refresh hash so a raced
// double-submit of one token yields exactly one winner.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, refreshHash string, next NextSession) (RotateResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RotateResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := scanSessionRow(tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.sessions()+`
		WHERE refresh_token_hash = $1
		FOR UPDATE
	`, refreshHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return RotateResult{}, ErrSessionNotFound
	}
	if err != nil {
		return RotateResult{}, err
	}

	if !old.ExpiresAt.After(now) {
		return RotateResult{}, ErrSessionExpired
	}

	// A rotated refresh token presented again is token reuse. Every
	// session of the user is revoked before the reuse error surfaces.
	if old.RevokedAt != nil && old.ReplacedBySessionID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE `+s.sessions()+`
			SET revoked_at = COALESCE(revoked_at, $2),
			    revocation_reason = COALESCE(revocation_reason, 'reuse_detected')
			WHERE user_id = $1
		`, old.UserID, now); err != nil {
			return RotateResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return RotateResult{}, err
		}
		return RotateResult{}, ReuseError{UserID: old.UserID}
	}

	// Revoked without replacement: plain logout.
	if old.RevokedAt != nil {
		return RotateResult{}, ErrSessionRevoked
	}

	newID := newSessionID()

	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.sessions()+` (
			id, user_id, role, refresh_token_hash,
			created_at, expires_at, user_agent, ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, newID, old.UserID, old.Role, next.RefreshHash, now, next.ExpiresAt, nullIfEmpty(next.Device.UserAgent), next.Device.IP); err != nil {
		return RotateResult{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = 'rotation'
		WHERE id = $1
	`, old.ID, now, newID); err != nil {
		return RotateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RotateResult{}, err
	}

	revokedAt := now
	oldOut := old
	oldOut.RevokedAt = &revokedAt
	oldOut.LastUsedAt = &revokedAt
	oldOut.ReplacedBySessionID = &newID

	return RotateResult{
		Old: oldOut,
		New: Row{
			ID:               newID,
			UserID:           old.UserID,
			Role:             old.Role,
			RefreshTokenHash: next.RefreshHash,
			CreatedAt:        now,
			ExpiresAt:        next.ExpiresAt,
		},
	}, nil
}

// Revoke revokes a single session. Already-revoked sessions are left as is.
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes every session belonging to a user.
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
	`, userID, now, reason)
	return err
}

func scanSessionRow(qr pgx.Row) (Row, error) {
	var row Row
	err := qr.Scan(
		&row.ID,
		&row.UserID,
		&row.Role,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
	)
	return row, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
