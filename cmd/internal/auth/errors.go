package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed phone numbers, codes or names.
	ErrValidation = errors.New("validation error")

	// ErrChallengeNotFound is returned when a challenge id is unknown or expired.
	ErrChallengeNotFound = errors.New("otp challenge not found")

	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// FieldError is a validation failure on one input field.
type FieldError struct {
	Field string
	Msg   string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e FieldError) Unwrap() error { return ErrValidation }

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
