package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured and
// by unit tests. Semantics match PostgresStore: email uniqueness is enforced
// on the normalized form.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]memUser // id -> user
	byEmail map[string]string  // normalized email -> id
}

type memUser struct {
	user         User
	passwordHash string
}

// NewMemoryStore constructs an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]memUser),
		byEmail: make(map[string]string),
	}
}

// CreateUser validates input, hashes the password, and inserts the user.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error) {
	if err := ctx.Err(); err != nil {
		return CreateUserResult{}, err
	}

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

	norm := NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[norm]; exists {
		return CreateUserResult{}, ConflictError{Op: "identity.CreateUser", Field: "email"}
	}

	u := User{
		ID:        id,
		Email:     email,
		Name:      name,
		Role:      role,
		CreatedAt: now,
	}
	s.users[id] = memUser{user: u, passwordHash: hash}
	s.byEmail[norm] = id

	return CreateUserResult{User: u}, nil
}

// GetUserByID loads a user by ID.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mu, ok := s.users[id]
	if !ok {
		return User{}, OpError{Op: "identity.GetUserByID", Kind: ErrNotFound}
	}
	return mu.user, nil
}

// GetUserAuthByEmail loads a user plus password hash by (normalized) email.
func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, OpError{Op: "identity.GetUserAuthByEmail", Kind: ErrNotFound}
	}
	mu := s.users[id]
	return UserAuth{User: mu.user, PasswordHash: mu.passwordHash}, nil
}
