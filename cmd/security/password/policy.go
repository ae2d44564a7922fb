package password

import (
	"unicode"
	"unicode/utf8"
)

// Validate checks password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Count characters (runes), not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if c.Policy.RequireUpper && !hasUpper {
		return ErrMissingUpper
	}
	if c.Policy.RequireLower && !hasLower {
		return ErrMissingLower
	}
	if c.Policy.RequireDigit && !hasDigit {
		return ErrMissingDigit
	}

	return nil
}
