package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEdgeNotFound is returned when an edge id does not exist in a run
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrRunTerminal is returned for mutations against a stopped or failed run
	ErrRunTerminal = errors.New("run is terminal")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
