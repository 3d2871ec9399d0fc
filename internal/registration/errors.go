package registration

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("registration not found")
	ErrConflict   = errors.New("registration conflict")
	ErrForbidden  = errors.New("action not allowed")
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports an invalid input field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
