// Package domain holds the error taxonomy and clock shared by the library services.
package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced book, member or transaction does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned when input fails a format or range rule.
	ErrValidation = errors.New("validation failed")
	// ErrConstraintViolation is returned when an operation would break a data invariant,
	// such as issuing a book with no available copies.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInvalidState is returned when a transaction is not in the state an operation needs.
	ErrInvalidState = errors.New("invalid state")
	// ErrStore is returned when the underlying data store call failed.
	ErrStore = errors.New("store error")
	// ErrUnauthorized is returned for missing or bad staff credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError describes the field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Is reports ValidationError as ErrValidation to errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
