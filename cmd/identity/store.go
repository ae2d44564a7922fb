package identity

import (
	"context"
	"time"
)

// Role is the coarse authorization level carried in access-token claims.
// gate stores the role but implements no policy engine around it.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is gate's canonical security principal. Immutable once created.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	CreatedAt time.Time
}

// UserAuth pairs a user with its password hash for credential checks.
// The hash never leaves this package's callers (the login handler).
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration request. Email must be unused;
// Password must already satisfy the password policy (the store hashes it).
type CreateUserInput struct {
	Email    string
	Name     string
	Password string
	Role     Role
	Now      time.Time
}

// CreateUserResult returns the created user.
type CreateUserResult struct {
	User User
}

// Store is the identity persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
}
