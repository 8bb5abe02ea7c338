// Package apierror defines the error taxonomy shared by the request-control
// layer and the KRA client: which failures are transient, which are
// deterministic, and the structured error values carrying that class.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Class represents a classification of failures.
type Class string

const (
	// ClassValidation is a malformed input rejected before any network call.
	ClassValidation Class = "validation"

	// ClassAuthentication is a rejected API key (401/403).
	ClassAuthentication Class = "authentication"

	// ClassClient is any other 4xx response.
	ClassClient Class = "client"

	// ClassRateLimit is a local limiter denial or a 429 response.
	ClassRateLimit Class = "rate_limit"

	// ClassTimeout is a transport timeout.
	ClassTimeout Class = "timeout"

	// ClassNetwork is a connection-level failure.
	ClassNetwork Class = "network"

	// ClassServer is a 5xx response.
	ClassServer Class = "server"

	// ClassCache is a cache backend failure. Never surfaced to callers.
	ClassCache Class = "cache"
)

// Common errors.
var (
	// ErrAuthentication is wrapped by every authentication failure.
	ErrAuthentication = errors.New("authentication failed")

	// ErrCacheUnsupported is returned when a cache backend cannot perform
	// the requested operation (e.g. pattern invalidation without key listing).
	ErrCacheUnsupported = errors.New("operation not supported by cache backend")

	// ErrCostExceedsCapacity is returned when an acquisition asks for more
	// tokens than the limiter can ever hold.
	ErrCostExceedsCapacity = errors.New("requested cost exceeds limiter capacity")
)

// Error is an API failure with its classification.
type Error struct {
	Class      Class
	StatusCode int
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("KRA %s error", e.Class)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s on %s", msg, e.Endpoint)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// RateLimitExceededError is returned when a request is refused because of a
// rate limit, either by the local limiter (non-blocking acquisition) or by
// the API (429).
type RateLimitExceededError struct {
	// RetryAfter is the suggested wait before trying again.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// ValidationError reports an input that failed format validation.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewAuthentication builds an authentication failure for endpoint.
func NewAuthentication(status int, endpoint string) *Error {
	return &Error{
		Class:      ClassAuthentication,
		StatusCode: status,
		Message:    "invalid API key or authentication failed",
		Endpoint:   endpoint,
		Err:        ErrAuthentication,
	}
}

// ClassOf classifies err. It returns "" for errors outside the taxonomy,
// including context cancellation.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}

	var rle *RateLimitExceededError
	if errors.As(err, &rle) {
		return ClassRateLimit
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ClassValidation
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae.Class
	}

	if errors.Is(err, ErrAuthentication) {
		return ClassAuthentication
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	return ""
}

// IsTransient reports whether failures of class c are expected to succeed
// if retried.
func IsTransient(c Class) bool {
	switch c {
	case ClassTimeout, ClassNetwork, ClassServer, ClassRateLimit:
		return true
	default:
		return false
	}
}

// RetryAfter returns the server- or limiter-suggested wait carried by err,
// if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rle *RateLimitExceededError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter, true
	}
	return 0, false
}
