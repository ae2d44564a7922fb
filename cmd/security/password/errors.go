package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrMissingUpper     = errors.New("password needs an uppercase letter")
	ErrMissingLower     = errors.New("password needs a lowercase letter")
	ErrMissingDigit     = errors.New("password needs a digit")
	ErrInvalidHash      = errors.New("invalid password hash")
	ErrInvalidConfig    = errors.New("invalid password config")
)

// IsPolicyViolation reports whether err is a policy failure (as opposed to an
// operational hashing error).
func IsPolicyViolation(err error) bool {
	switch {
	case errors.Is(err, ErrPasswordTooShort),
		errors.Is(err, ErrPasswordTooLong),
		errors.Is(err, ErrMissingUpper),
		errors.Is(err, ErrMissingLower),
		errors.Is(err, ErrMissingDigit):
		return true
	}
	return false
}
