// Package types provides shared types, interfaces, and errors for the gateway.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Session pool errors
	ErrSessionsExhausted = errors.New("no browser sessions available")
	ErrPoolClosed        = errors.New("session pool is closed")
	ErrSessionGone       = errors.New("browser session no longer exists")
	ErrQuotaExceeded     = errors.New("browser session quota exceeded")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrURLRequired    = errors.New("url is required")
	ErrInvalidURL     = errors.New("invalid URL")

	// Credit errors
	ErrInsufficientCredits = errors.New("insufficient credits")

	// File errors
	ErrFileNotFound    = errors.New("file not found")
	ErrStorageDisabled = errors.New("permanent URLs disabled: file storage unavailable")

	// Search errors
	ErrNoSearchResults = errors.New("No search results")
	ErrRateLimited     = errors.New("rate limit exceeded")

	// Auth errors
	ErrAuthRequired = errors.New("authorization required")
	ErrAuthInvalid  = errors.New("invalid API key")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// SessionsExhaustedError is returned when the remote browser service cannot
// supply another session: either all slots are active or the acquisition
// budget is spent. RetryAfter tells the caller when a new attempt may succeed.
type SessionsExhaustedError struct {
	Reason     string        // "max_concurrent" or "acquisitions"
	RetryAfter time.Duration // earliest moment a new acquisition may be attempted
}

// Error implements the error interface.
func (e *SessionsExhaustedError) Error() string {
	return fmt.Sprintf("browser sessions exhausted (%s), retry after %s", e.Reason, e.RetryAfter)
}

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *SessionsExhaustedError) Unwrap() error {
	return ErrSessionsExhausted
}

// NewSessionsExhaustedError creates an exhaustion error with a retry hint.
func NewSessionsExhaustedError(reason string, retryAfter time.Duration) *SessionsExhaustedError {
	if retryAfter <= 0 {
		retryAfter = 5 * time.Second
	}
	return &SessionsExhaustedError{Reason: reason, RetryAfter: retryAfter}
}

// CreditError reports a reserve attempt against an insufficient balance.
type CreditError struct {
	Balance int64 // balance at the time of the attempt
	Cost    int64 // requested cost
}

// Error implements the error interface.
func (e *CreditError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, cost %d", e.Balance, e.Cost)
}

// Unwrap returns the underlying sentinel.
func (e *CreditError) Unwrap() error {
	return ErrInsufficientCredits
}

// BindingError wraps a failure from the remote browser service with the
// operation that produced it.
type BindingError struct {
	Op  string // "launch", "connect", "list_sessions", "quota", "new_page", "close"
	Err error
}

// Error implements the error interface.
func (e *BindingError) Error() string {
	return "browser binding " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *BindingError) Unwrap() error {
	return e.Err
}

// ValidationError reports a request schema violation. The gateway maps it to
// HTTP 422 without charging credits.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Unwrap returns the underlying sentinel.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// NewValidationError creates a field-scoped validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
