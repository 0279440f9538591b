// Package apperr holds the error taxonomy shared by every component.
// Callers wrap these sentinels with context and match them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")

	// ErrIncompleteCode is a validation error: fewer than six OTP cells filled.
	ErrIncompleteCode = fmt.Errorf("%w: incomplete code", ErrValidation)
	ErrInvalidCode    = errors.New("invalid code")
)

// Validation returns an ErrValidation carrying a field-level message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
