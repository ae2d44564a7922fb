package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails signature or
	// structural validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when an access token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionNotFound is returned when a refresh token does not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is past its refresh TTL.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the session has been revoked (logout).
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshReuseDetected is returned when a rotated (replaced) refresh
	// token is presented again. All sessions of the user have been revoked by
	// the time callers see this error.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ReuseError carries the affected user for audit and event fan-out.
type ReuseError struct {
	UserID string
}

func (e ReuseError) Error() string {
	return fmt.Sprintf("%s: user %s", ErrRefreshReuseDetected.Error(), e.UserID)
}

func (e ReuseError) Unwrap() error { return ErrRefreshReuseDetected }
