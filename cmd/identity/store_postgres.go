package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema and table identifiers are safely quoted to avoid SQL injection
// via identifiers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "gate").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
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
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateUser validates input, hashes the password, and inserts the user.
// Email uniqueness is enforced on the normalized column.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error) {
	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)
	if !ValidEmail(email) {
		return CreateUserResult{}, OpError{Op: "identity.CreateUser", Kind: ErrInvalidInput, Msg: "invalid email"}
	}
	if len(name) < 2 || len(name) > 50 {
		return CreateUserResult{}, OpError{Op: "identity.CreateUser", Kind: ErrInvalidInput, Msg: "invalid name"}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return CreateUserResult{}, OpError{Op: "identity.CreateUser", Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}

	id, err := NewULID(now)
	if err != nil {
		return CreateUserResult{}, err
	}

	users := pgIdent(s.schema, "users")

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+users+` (
			id, email, email_norm, name, role, password_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, email, NormalizeEmail(email), name, string(role), hash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return CreateUserResult{}, ConflictError{Op: "identity.CreateUser", Field: "email"}
		}
		return CreateUserResult{}, err
	}

	return CreateUserResult{User: User{
		ID:        id,
		Email:     email,
		Name:      name,
		Role:      role,
		CreatedAt: now,
	}}, nil
}

// GetUserByID loads a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	var role string

	users := pgIdent(s.schema, "users")

	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, role, created_at
		FROM `+users+`
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: "identity.GetUserByID", Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, err
	}

	u.Role = Role(role)
	return u, nil
}

// GetUserAuthByEmail loads a user plus password hash by (normalized) email.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	var ua UserAuth
	var role string

	users := pgIdent(s.schema, "users")

	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, role, password_hash, created_at
		FROM `+users+`
		WHERE email_norm = $1
	`, NormalizeEmail(email)).Scan(
		&ua.User.ID,
		&ua.User.Email,
		&ua.User.Name,
		&role,
		&ua.PasswordHash,
		&ua.User.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, OpError{Op: "identity.GetUserAuthByEmail", Kind: ErrNotFound}
	}
	if err != nil {
		return UserAuth{}, err
	}

	ua.User.Role = Role(role)
	return ua, nil
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
