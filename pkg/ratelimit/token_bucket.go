package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket refills MaxRequests tokens evenly over Window, holding at most
// MaxRequests. Each acquisition consumes cost tokens.
type TokenBucket struct {
	base

	mu      sync.RWMutex
	limiter *rate.Limiter
	rate    rate.Limit
}

var _ Limiter = (*TokenBucket)(nil)

// NewTokenBucket creates a full token bucket.
func NewTokenBucket(cfg Config, opts ...Option) (*TokenBucket, error) {
	cfg.Algorithm = AlgorithmTokenBucket
	b, err := newBase(cfg, opts)
	if err != nil {
		return nil, err
	}

	tb := &TokenBucket{
		base: b,
		rate: rate.Limit(float64(cfg.MaxRequests) / cfg.Window.Seconds()),
	}
	tb.limiter = tb.newLimiter()
	return tb, nil
}

func (tb *TokenBucket) newLimiter() *rate.Limiter {
	lim := rate.NewLimiter(tb.rate, tb.config.MaxRequests)
	// Anchor the refill bookkeeping to our clock with a full bucket.
	lim.SetBurstAt(tb.clock.Now(), tb.config.MaxRequests)
	return lim
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.limiter
}

func (tb *TokenBucket) admit(now time.Time, cost int) (bool, time.Duration) {
	lim := tb.current()
	if lim.AllowN(now, cost) {
		return true, 0
	}
	return false, clampSleep(tb.waitFor(lim, now, cost), minBucketSleepIncrement, maxSleepIncrement)
}

func (tb *TokenBucket) waitFor(lim *rate.Limiter, now time.Time, cost int) time.Duration {
	deficit := float64(cost) - lim.TokensAt(now)
	if deficit <= 0 {
		return 0
	}
	seconds := deficit / float64(tb.rate)
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// Acquire implements Limiter.
func (tb *TokenBucket) Acquire(ctx context.Context, opts ...AcquireOption) (bool, error) {
	return tb.acquire(ctx, tb, opts)
}

// AcquireAsync implements Limiter.
func (tb *TokenBucket) AcquireAsync(ctx context.Context, opts ...AcquireOption) <-chan Result {
	return tb.acquireAsync(ctx, tb, opts)
}

// TryAcquire implements Limiter.
func (tb *TokenBucket) TryAcquire(cost int) bool {
	if !tb.config.Enabled {
		return true
	}
	if cost <= 0 || cost > tb.config.MaxRequests {
		return false
	}
	granted, _ := tb.admit(tb.clock.Now(), cost)
	return granted
}

// Reset refills the bucket.
func (tb *TokenBucket) Reset() {
	lim := tb.newLimiter()

	tb.mu.Lock()
	tb.limiter = lim
	tb.mu.Unlock()

	tb.logger.Debug().Msg("Token bucket reset")
}

// AvailableTokens returns the tokens available now.
func (tb *TokenBucket) AvailableTokens() float64 {
	if !tb.config.Enabled {
		return float64(tb.config.MaxRequests)
	}
	return math.Min(tb.current().TokensAt(tb.clock.Now()), float64(tb.config.MaxRequests))
}

// WaitTime returns how long an acquisition of cost would wait now.
func (tb *TokenBucket) WaitTime(cost int) time.Duration {
	if !tb.config.Enabled {
		return 0
	}
	return tb.waitFor(tb.current(), tb.clock.Now(), cost)
}

// State implements Limiter.
func (tb *TokenBucket) State() State {
	s := State{
		Algorithm:  AlgorithmTokenBucket,
		Enabled:    tb.config.Enabled,
		Capacity:   tb.config.MaxRequests,
		Remaining:  tb.AvailableTokens(),
		Window:     tb.config.Window,
		RetryAfter: tb.WaitTime(1),
		ObservedAt: tb.clock.Now(),
	}
	s.UpdateHealth()
	return s
}
