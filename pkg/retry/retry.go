// Package retry runs an operation under bounded exponential backoff with
// jitter, retrying only failures classified as transient.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JitterFraction is the symmetric jitter applied to every delay.
const JitterFraction = 0.25

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration

	// ExponentialBase is the growth factor between consecutive delays.
	ExponentialBase float64

	// RetryOnTimeout makes timeout failures retry-eligible.
	RetryOnTimeout bool

	// RetryOnRateLimit makes rate-limit failures retry-eligible.
	RetryOnRateLimit bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialDelay:     1 * time.Second,
		MaxDelay:         30 * time.Second,
		ExponentialBase:  2.0,
		RetryOnTimeout:   true,
		RetryOnRateLimit: true,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1 (got %d)", c.MaxAttempts)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("retry initial_delay must be positive (got %s)", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("retry max_delay %s is less than initial_delay %s", c.MaxDelay, c.InitialDelay)
	}
	if c.ExponentialBase <= 1 {
		return fmt.Errorf("retry exponential_base must be greater than 1 (got %g)", c.ExponentialBase)
	}
	return nil
}

// Hook observes a retry before its delay is slept.
type Hook func(attempt int, err error, delay time.Duration)

// Policy decides whether and when to retry.
type Policy struct {
	config  Config
	clock   clock.Clock
	jitter  func() float64
	logger  zerolog.Logger
	onRetry Hook
}

// Option customises a Policy.
type Option func(*Policy)

// WithClock sets the clock used to sleep between attempts.
func WithClock(c clock.Clock) Option {
	return func(p *Policy) { p.clock = c }
}

// WithJitter replaces the random source. f must return values in [0, 1);
// 0.5 yields the unjittered delay.
func WithJitter(f func() float64) Option {
	return func(p *Policy) { p.jitter = f }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Policy) { p.logger = logger }
}

// WithOnRetry registers a hook called before each retry delay.
func WithOnRetry(h Hook) Option {
	return func(p *Policy) { p.onRetry = h }
}

// New creates a retry policy.
func New(cfg Config, opts ...Option) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Policy{
		config: cfg,
		clock:  clock.New(),
		jitter: rand.Float64,
		logger: log.With().Str("component", "retry").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.config
}

// BaseDelay returns min(InitialDelay * ExponentialBase^attempt, MaxDelay)
// for a 0-indexed attempt, without jitter.
func (p *Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	seconds := p.config.InitialDelay.Seconds() * math.Pow(p.config.ExponentialBase, float64(attempt))
	if math.IsInf(seconds, 0) || seconds >= p.config.MaxDelay.Seconds() {
		return p.config.MaxDelay
	}
	return time.Duration(seconds * float64(time.Second))
}

// DelayFor returns the base delay for attempt with ±25% jitter, floored at
// zero.
func (p *Policy) DelayFor(attempt int) time.Duration {
	base := float64(p.BaseDelay(attempt))
	offset := (2*p.jitter() - 1) * JitterFraction * base
	return time.Duration(max(0, base+offset))
}

// Retryable reports whether err is worth another attempt. Network and
// server failures always are; timeouts and rate limiting depend on the
// configuration; authentication, client and validation failures never are.
func (p *Policy) Retryable(err error) bool {
	switch apierror.ClassOf(err) {
	case apierror.ClassNetwork, apierror.ClassServer:
		return true
	case apierror.ClassTimeout:
		return p.config.RetryOnTimeout
	case apierror.ClassRateLimit:
		return p.config.RetryOnRateLimit
	default:
		return false
	}
}

// delay picks the wait before the attempt after attempt. A server-provided
// Retry-After replaces the computed delay, bounded by MaxDelay.
func (p *Policy) delay(attempt int, err error) time.Duration {
	if after, ok := apierror.RetryAfter(err); ok && after > 0 {
		return min(after, p.config.MaxDelay)
	}
	return p.DelayFor(attempt)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. The last error is returned unchanged. If ctx ends
// while waiting between attempts, ctx.Err() is returned.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				p.logger.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		class := string(apierror.ClassOf(err))
		if !p.Retryable(err) || ctx.Err() != nil {
			return err
		}

		if attempt+1 >= p.config.MaxAttempts {
			RetryExhausted.WithLabelValues(class).Inc()
			p.logger.Error().
				Err(err).
				Str("error_class", class).
				Int("max_attempts", p.config.MaxAttempts).
				Msg("Retry attempts exhausted")
			return err
		}

		delay := p.delay(attempt, err)
		Retries.WithLabelValues(class).Inc()
		RetryBackoff.WithLabelValues(class).Observe(delay.Seconds())

		p.logger.Warn().
			Err(err).
			Str("error_class", class).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying request after backoff")

		if p.onRetry != nil {
			p.onRetry(attempt, err, delay)
		}

		if sleepErr := p.clock.Sleep(ctx, delay); sleepErr != nil {
			p.logger.Warn().
				Str("error_class", class).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return sleepErr
		}
	}
}
