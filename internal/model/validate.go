package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add records a failure on field.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Require records "is required" on field when value is blank.
func (e *ValidationError) Require(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.Add(field, "is required")
	}
}

// Err returns e as an error when it holds failures, nil otherwise.
func (e *ValidationError) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// ValidateResourceIDs checks that every locker id is within 1..maxID and
// that no id appears twice.
func ValidateResourceIDs(ids []int, maxID int) error {
	var ve ValidationError
	if len(ids) == 0 {
		ve.Add("locker_ids", "at least one locker id is required")
		return &ve
	}
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id < 1 || (maxID > 0 && id > maxID) {
			ve.Add("locker_ids", "locker id %d out of range 1..%d", id, maxID)
			continue
		}
		if _, dup := seen[id]; dup {
			ve.Add("locker_ids", "duplicate locker id %d", id)
			continue
		}
		seen[id] = struct{}{}
	}
	return ve.Err()
}
