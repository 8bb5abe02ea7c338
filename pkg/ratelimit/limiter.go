package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Algorithm names an admission algorithm.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
)

// Sleep increments are bounded so that waiting callers re-observe the clock
// and notice cancellation promptly.
const (
	maxSleepIncrement       = time.Second
	minWindowSleepIncrement = 100 * time.Millisecond
	minBucketSleepIncrement = time.Millisecond
)

// Limiter admits operations at a bounded rate.
type Limiter interface {
	// Acquire obtains capacity for one operation. It blocks by default;
	// see NonBlocking and WithTimeout. granted is false only when the
	// timeout budget elapsed. A cancelled ctx yields ctx.Err().
	Acquire(ctx context.Context, opts ...AcquireOption) (granted bool, err error)

	// AcquireAsync runs Acquire in a goroutine and delivers its outcome on
	// the returned channel, which receives exactly one Result.
	AcquireAsync(ctx context.Context, opts ...AcquireOption) <-chan Result

	// TryAcquire grants cost immediately if capacity allows, without waiting.
	TryAcquire(cost int) bool

	// Reset restores full capacity.
	Reset()

	// State returns a snapshot of the limiter.
	State() State
}

// Result is the outcome of an asynchronous acquisition.
type Result struct {
	Granted bool
	Err     error
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled is the master switch; a disabled limiter grants immediately.
	Enabled bool

	// Algorithm selects the implementation returned by New.
	Algorithm Algorithm

	// MaxRequests is the capacity per Window.
	MaxRequests int

	// Window is the accounting period.
	Window time.Duration
}

// DefaultConfig returns 100 requests per minute on a token bucket.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Algorithm:   AlgorithmTokenBucket,
		MaxRequests: 100,
		Window:      time.Minute,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max_requests must be positive (got %d)", c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive (got %s)", c.Window)
	}
	switch c.Algorithm {
	case AlgorithmTokenBucket, AlgorithmSlidingWindow:
	default:
		return fmt.Errorf("unknown rate limit algorithm %q", c.Algorithm)
	}
	return nil
}

// Option customises a limiter.
type Option func(*base)

// WithClock sets the clock used for refill, window trimming and sleeping.
func WithClock(c clock.Clock) Option {
	return func(b *base) { b.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *base) { b.logger = logger }
}

// New returns the limiter selected by cfg.Algorithm.
func New(cfg Config, opts ...Option) (Limiter, error) {
	switch cfg.Algorithm {
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(cfg, opts...)
	case AlgorithmTokenBucket, "":
		cfg.Algorithm = AlgorithmTokenBucket
		return NewTokenBucket(cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm %q", cfg.Algorithm)
	}
}

// AcquireOption adjusts a single acquisition.
type AcquireOption func(*acquireSettings)

type acquireSettings struct {
	cost     int
	blocking bool
	timeout  time.Duration
}

// WithCost acquires n units instead of one.
func WithCost(n int) AcquireOption {
	return func(s *acquireSettings) { s.cost = n }
}

// WithTimeout bounds how long a blocking acquisition may wait. On expiry
// Acquire returns false without consuming capacity.
func WithTimeout(d time.Duration) AcquireOption {
	return func(s *acquireSettings) { s.timeout = d }
}

// NonBlocking makes Acquire fail fast with *apierror.RateLimitExceededError
// instead of waiting.
func NonBlocking() AcquireOption {
	return func(s *acquireSettings) { s.blocking = false }
}

func newAcquireSettings(opts []AcquireOption) acquireSettings {
	s := acquireSettings{cost: 1, blocking: true}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// admitter is the algorithm-specific part of a limiter: one atomic attempt
// to admit cost at now, or an estimate of how long to wait before retrying.
type admitter interface {
	admit(now time.Time, cost int) (granted bool, wait time.Duration)
}

// base carries what both algorithms share: configuration, clock, logging
// and the acquisition loop.
type base struct {
	config Config
	clock  clock.Clock
	logger zerolog.Logger
}

func newBase(cfg Config, opts []Option) (base, error) {
	if err := cfg.Validate(); err != nil {
		return base{}, err
	}

	b := base{
		config: cfg,
		clock:  clock.New(),
		logger: log.With().Str("component", "ratelimit").Logger(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.With().Str("algorithm", string(cfg.Algorithm)).Logger()
	return b, nil
}

func (b *base) acquire(ctx context.Context, a admitter, opts []AcquireOption) (bool, error) {
	s := newAcquireSettings(opts)
	algorithm := string(b.config.Algorithm)

	if !b.config.Enabled {
		RateLimitAcquisitions.WithLabelValues(algorithm, "granted").Inc()
		return true, nil
	}
	if s.cost <= 0 {
		return false, fmt.Errorf("acquire cost must be positive (got %d)", s.cost)
	}
	if s.cost > b.config.MaxRequests {
		return false, fmt.Errorf("acquire cost %d with capacity %d: %w",
			s.cost, b.config.MaxRequests, apierror.ErrCostExceedsCapacity)
	}

	start := b.clock.Now()
	var deadline time.Time
	if s.timeout > 0 {
		deadline = start.Add(s.timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			RateLimitAcquisitions.WithLabelValues(algorithm, "canceled").Inc()
			return false, err
		}

		now := b.clock.Now()
		granted, wait := a.admit(now, s.cost)
		if granted {
			waited := now.Sub(start)
			RateLimitAcquisitions.WithLabelValues(algorithm, "granted").Inc()
			RateLimitWait.WithLabelValues(algorithm).Observe(waited.Seconds())
			if waited > 0 {
				b.logger.Debug().Dur("waited", waited).Int("cost", s.cost).Msg("Rate limit acquired after waiting")
			}
			return true, nil
		}

		if !s.blocking {
			RateLimitAcquisitions.WithLabelValues(algorithm, "denied").Inc()
			b.logger.Debug().Int("cost", s.cost).Msg("Rate limit exceeded, not waiting")
			return false, &apierror.RateLimitExceededError{RetryAfter: b.config.Window}
		}

		if !deadline.IsZero() {
			remaining := deadline.Sub(now)
			if remaining <= 0 {
				RateLimitAcquisitions.WithLabelValues(algorithm, "timeout").Inc()
				b.logger.Warn().Dur("timeout", s.timeout).Int("cost", s.cost).Msg("Rate limit acquire timed out")
				return false, nil
			}
			wait = min(wait, remaining)
		}

		if err := b.clock.Sleep(ctx, wait); err != nil {
			RateLimitAcquisitions.WithLabelValues(algorithm, "canceled").Inc()
			return false, err
		}
	}
}

func (b *base) acquireAsync(ctx context.Context, a admitter, opts []AcquireOption) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		granted, err := b.acquire(ctx, a, opts)
		out <- Result{Granted: granted, Err: err}
		close(out)
	}()
	return out
}

func clampSleep(wait, lower, upper time.Duration) time.Duration {
	return max(lower, min(wait, upper))
}
