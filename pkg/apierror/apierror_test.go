package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net failure" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "server error with wrapped error",
			err: &Error{
				Class:      ClassServer,
				StatusCode: 503,
				Message:    "Server error: 503",
				Endpoint:   "/verify-pin",
				Err:        errors.New("upstream unavailable"),
			},
			expected: "KRA server error (status 503) on /verify-pin: Server error: 503: upstream unavailable",
		},
		{
			name: "client error without endpoint",
			err: &Error{
				Class:      ClassClient,
				StatusCode: 404,
				Message:    "not found",
			},
			expected: "KRA client error (status 404): not found",
		},
		{
			name: "network error without status",
			err: &Error{
				Class: ClassNetwork,
				Err:   errors.New("connection refused"),
			},
			expected: "KRA network error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &Error{Class: ClassNetwork, Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.ErrorIs(t, NewAuthentication(401, "/verify-pin"), ErrAuthentication)
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Class
	}{
		{"nil", nil, ""},
		{"rate limit", &RateLimitExceededError{RetryAfter: time.Minute}, ClassRateLimit},
		{"wrapped rate limit", fmt.Errorf("acquire: %w", &RateLimitExceededError{}), ClassRateLimit},
		{"validation", &ValidationError{Field: "pin", Message: "required"}, ClassValidation},
		{"api error", &Error{Class: ClassServer}, ClassServer},
		{"authentication", NewAuthentication(401, "/x"), ClassAuthentication},
		{"bare authentication sentinel", fmt.Errorf("login: %w", ErrAuthentication), ClassAuthentication},
		{"deadline", context.DeadlineExceeded, ClassTimeout},
		{"cancelled", context.Canceled, ""},
		{"net timeout", timeoutErr{timeout: true}, ClassTimeout},
		{"net failure", timeoutErr{timeout: false}, ClassNetwork},
		{"unknown", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassOf(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	transient := []Class{ClassTimeout, ClassNetwork, ClassServer, ClassRateLimit}
	for _, c := range transient {
		assert.True(t, IsTransient(c), "class %q", c)
	}

	deterministic := []Class{ClassValidation, ClassAuthentication, ClassClient, ClassCache, ""}
	for _, c := range deterministic {
		assert.False(t, IsTransient(c), "class %q", c)
	}
}

func TestRetryAfter(t *testing.T) {
	d, ok := RetryAfter(fmt.Errorf("wrapped: %w", &RateLimitExceededError{RetryAfter: 30 * time.Second}))
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = RetryAfter(errors.New("other"))
	assert.False(t, ok)

	_, ok = RetryAfter(&RateLimitExceededError{})
	assert.False(t, ok)
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, `invalid pin "X1": must match P#########X`,
		(&ValidationError{Field: "pin", Value: "X1", Message: "must match P#########X"}).Error())
	assert.Equal(t, "invalid period: is required",
		(&ValidationError{Field: "period", Message: "is required"}).Error())
}
