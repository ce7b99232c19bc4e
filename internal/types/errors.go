package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSessionExpired is unrecoverable and propagates to the session handler.
	ErrSessionExpired = errors.New("session expired")
	// ErrToggleInFlight is returned when a reaction toggle is still settling.
	ErrToggleInFlight = errors.New("reaction toggle in flight")
)

// ValidationError rejects input before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientNetworkError marks a retryable failure.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient network error: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ConflictError reports an action on a message already tombstoned elsewhere.
// Callers treat it as a no-op and surface Notice to the user.
type ConflictError struct {
	MessageID string
	Notice    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("message %s: %s", e.MessageID, e.Notice)
}

// PermissionError rejects an action on a message the caller does not own.
type PermissionError struct {
	MessageID string
	UserID    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s may not modify message %s", e.UserID, e.MessageID)
}

// MediaUploadError isolates attachment failures from text delivery.
type MediaUploadError struct {
	Name string
	Err  error
}

func (e *MediaUploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Name, e.Err)
}

func (e *MediaUploadError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var transient *TransientNetworkError
	return errors.As(err, &transient)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
