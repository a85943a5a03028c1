package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadySettled is returned when a command that is no longer pending
// is marked completed or failed.
var ErrAlreadySettled = errors.New("command already settled")

// Rejection reasons for a WebSocket handshake.
const (
	RejectUnknownNamespace = "unknown_namespace"
	RejectUnauthenticated  = "unauthenticated"
)

// RejectedError is returned when a connection is refused before a
// Connection is created. The socket has already been closed.
type RejectedError struct {
	Namespace string
	Reason    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("connection to %s rejected: %s", e.Namespace, e.Reason)
}

// ConflictError is returned when a command cannot be admitted because its
// resource is locked or already has a pending command.
type ConflictError struct {
	Key    string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Key, e.Reason)
}

// Conflict reasons.
const (
	ConflictLocked  = "resource is locked"
	ConflictPending = "a pending command already targets this resource"
)

// UpstreamError wraps a failure of an external collaborator (session
// validator, command queue). No safe local decision can be made.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
