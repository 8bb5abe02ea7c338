package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPolicy(t *testing.T, cfg Config, opts ...Option) (*Policy, *clock.Manual) {
	t.Helper()

	clk := clock.NewManual(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	opts = append([]Option{
		WithClock(clk),
		WithLogger(zerolog.Nop()),
		WithJitter(func() float64 { return 0.5 }),
	}, opts...)
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p, clk
}

func serverError() error {
	return &apierror.Error{Class: apierror.ClassServer, StatusCode: http.StatusBadGateway, Endpoint: "/verify-pin"}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialDelay != 1*time.Second {
		t.Errorf("InitialDelay = %v, want 1s", config.InitialDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", config.MaxDelay)
	}
	if config.ExponentialBase != 2.0 {
		t.Errorf("ExponentialBase = %v, want 2.0", config.ExponentialBase)
	}
	if !config.RetryOnTimeout || !config.RetryOnRateLimit {
		t.Error("timeouts and rate limits should be retried by default")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"single attempt", func(c *Config) { c.MaxAttempts = 1 }, false},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"zero initial delay", func(c *Config) { c.InitialDelay = 0 }, true},
		{"max below initial", func(c *Config) { c.MaxDelay = 500 * time.Millisecond }, true},
		{"max equals initial", func(c *Config) { c.MaxDelay = c.InitialDelay }, false},
		{"base of one", func(c *Config) { c.ExponentialBase = 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicy_BaseDelay(t *testing.T) {
	p, _ := newTestPolicy(t, DefaultConfig())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
		{5000, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := p.BaseDelay(tt.attempt); got != tt.want {
			t.Errorf("BaseDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_DelayForJitterBounds(t *testing.T) {
	p, err := New(DefaultConfig(), WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	for attempt := 0; attempt < 8; attempt++ {
		base := p.BaseDelay(attempt)
		lower := time.Duration(float64(base) * (1 - JitterFraction))
		upper := time.Duration(float64(base) * (1 + JitterFraction))
		for i := 0; i < 50; i++ {
			d := p.DelayFor(attempt)
			assert.GreaterOrEqual(t, d, lower, "attempt %d", attempt)
			assert.LessOrEqual(t, d, upper, "attempt %d", attempt)
		}
	}
}

func TestPolicy_DelayForJitterExtremes(t *testing.T) {
	low, _ := newTestPolicy(t, DefaultConfig(), WithJitter(func() float64 { return 0 }))
	assert.Equal(t, 750*time.Millisecond, low.DelayFor(0))

	mid, _ := newTestPolicy(t, DefaultConfig())
	assert.Equal(t, 2*time.Second, mid.DelayFor(1))
}

func TestPolicy_Retryable(t *testing.T) {
	cfg := DefaultConfig()
	strict := cfg
	strict.RetryOnTimeout = false
	strict.RetryOnRateLimit = false

	tests := []struct {
		name       string
		err        error
		want       bool
		wantStrict bool
	}{
		{"server", serverError(), true, true},
		{"network", &apierror.Error{Class: apierror.ClassNetwork}, true, true},
		{"timeout", &apierror.Error{Class: apierror.ClassTimeout}, true, false},
		{"deadline", context.DeadlineExceeded, true, false},
		{"rate limit", &apierror.RateLimitExceededError{RetryAfter: time.Second}, true, false},
		{"authentication", apierror.NewAuthentication(http.StatusUnauthorized, "/verify-pin"), false, false},
		{"client", &apierror.Error{Class: apierror.ClassClient, StatusCode: http.StatusBadRequest}, false, false},
		{"validation", &apierror.ValidationError{Field: "pin", Message: "bad"}, false, false},
		{"cancelled", context.Canceled, false, false},
		{"unknown", errors.New("boom"), false, false},
	}

	p, _ := newTestPolicy(t, cfg)
	ps, _ := newTestPolicy(t, strict)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Retryable(tt.err))
			assert.Equal(t, tt.wantStrict, ps.Retryable(tt.err))
		})
	}
}

func TestPolicy_Do_SucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	p, clk := newTestPolicy(t, DefaultConfig(), WithOnRetry(func(_ int, _ error, d time.Duration) {
		delays = append(delays, d)
	}))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return serverError()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, delays)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestPolicy_Do_NonRetryableFailsImmediately(t *testing.T) {
	p, clk := newTestPolicy(t, DefaultConfig())

	authErr := apierror.NewAuthentication(http.StatusUnauthorized, "/verify-pin")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return authErr
	})

	assert.Same(t, authErr, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
}

func TestPolicy_Do_ExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 4
	p, clk := newTestPolicy(t, cfg)

	var last error
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		last = &apierror.Error{Class: apierror.ClassNetwork, Message: "attempt"}
		return last
	})

	assert.Same(t, last, err)
	assert.Equal(t, 4, calls)
	assert.Len(t, clk.Sleeps(), 3)
}

func TestPolicy_Do_SingleAttempt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	p, clk := newTestPolicy(t, cfg)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return serverError()
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())
}

func TestPolicy_Do_HonoursRetryAfter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDelay = 10 * time.Second
	p, clk := newTestPolicy(t, cfg)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		switch calls {
		case 1:
			return &apierror.Error{
				Class: apierror.ClassRateLimit,
				Err:   &apierror.RateLimitExceededError{RetryAfter: 5 * time.Second},
			}
		case 2:
			return &apierror.RateLimitExceededError{RetryAfter: time.Minute}
		default:
			return nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, clk.Sleeps())
}

func TestPolicy_Do_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, _ := newTestPolicy(t, DefaultConfig(), WithOnRetry(func(int, error, time.Duration) {
		cancel()
	}))

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return serverError()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
