// ABOUTME: Error taxonomy for the message service client
// ABOUTME: Distinguishes auth, transport, conflict, and user-action failures

package api

import (
	"errors"
	"fmt"
)

// Validation and precondition errors. These are raised locally, before any
// network call is issued.
var (
	ErrEmptyBody           = errors.New("message body is empty")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrSendInFlight        = errors.New("send already in flight for conversation")
)

// AuthError indicates the credential was absent, expired, or rejected by the
// service. It is surfaced to the caller ("please sign in") and never retried
// automatically.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Reason
}

// NetworkError wraps a transport failure or a 5xx response. Refresh paths
// treat it as transient: the stale cache is kept and the next scheduled
// firing retries.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConflictError indicates the service rejected a write with 409, e.g. a
// conversation created concurrently by another client for the same pair.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason == "" {
		return "conflict"
	}
	return "conflict: " + e.Reason
}

// SendError is returned when posting a message fails. It carries the
// server-provided reason when one is available so the UI can show it and
// keep the input text for retry.
type SendError struct {
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	if e.Reason != "" {
		return "send failed: " + e.Reason
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// MarkReadError is returned when the mark-read call fails. The optimistic
// unread zeroing is reconciled by a follow-up refresh either way.
type MarkReadError struct {
	Err error
}

func (e *MarkReadError) Error() string {
	return fmt.Sprintf("mark read failed: %v", e.Err)
}

func (e *MarkReadError) Unwrap() error { return e.Err }

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
