package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow admits at most MaxRequests within any trailing Window.
type SlidingWindow struct {
	base

	mu sync.Mutex
	// stamps holds admission times, oldest first.
	stamps []time.Time
}

var _ Limiter = (*SlidingWindow)(nil)

// NewSlidingWindow creates an empty sliding window.
func NewSlidingWindow(cfg Config, opts ...Option) (*SlidingWindow, error) {
	cfg.Algorithm = AlgorithmSlidingWindow
	b, err := newBase(cfg, opts)
	if err != nil {
		return nil, err
	}

	return &SlidingWindow{
		base:   b,
		stamps: make([]time.Time, 0, cfg.MaxRequests),
	}, nil
}

// trim drops stamps older than now-Window. Callers hold mu.
func (sw *SlidingWindow) trim(now time.Time) {
	cutoff := now.Add(-sw.config.Window)
	i := 0
	for i < len(sw.stamps) && sw.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		sw.stamps = append(sw.stamps[:0], sw.stamps[i:]...)
	}
}

func (sw *SlidingWindow) admit(now time.Time, cost int) (bool, time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.trim(now)
	if len(sw.stamps)+cost <= sw.config.MaxRequests {
		for range cost {
			sw.stamps = append(sw.stamps, now)
		}
		return true, 0
	}

	wait := sw.waitLocked(now, cost)
	sleep := clampSleep(wait, minWindowSleepIncrement, maxSleepIncrement)
	if sleep == wait {
		// A stamp exactly Window old is still inside the window.
		sleep += time.Nanosecond
	}
	return false, sleep
}

// waitLocked estimates when enough stamps will have left the window to admit
// cost. Callers hold mu and have trimmed.
func (sw *SlidingWindow) waitLocked(now time.Time, cost int) time.Duration {
	excess := len(sw.stamps) + cost - sw.config.MaxRequests
	if excess <= 0 {
		return 0
	}
	leaving := sw.stamps[excess-1]
	wait := leaving.Add(sw.config.Window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Acquire implements Limiter.
func (sw *SlidingWindow) Acquire(ctx context.Context, opts ...AcquireOption) (bool, error) {
	return sw.acquire(ctx, sw, opts)
}

// AcquireAsync implements Limiter.
func (sw *SlidingWindow) AcquireAsync(ctx context.Context, opts ...AcquireOption) <-chan Result {
	return sw.acquireAsync(ctx, sw, opts)
}

// TryAcquire implements Limiter.
func (sw *SlidingWindow) TryAcquire(cost int) bool {
	if !sw.config.Enabled {
		return true
	}
	if cost <= 0 || cost > sw.config.MaxRequests {
		return false
	}
	granted, _ := sw.admit(sw.clock.Now(), cost)
	return granted
}

// Reset forgets all recorded requests.
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	sw.stamps = sw.stamps[:0]
	sw.mu.Unlock()

	sw.logger.Debug().Msg("Sliding window reset")
}

// RequestCount returns the number of requests inside the current window.
func (sw *SlidingWindow) RequestCount() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.trim(sw.clock.Now())
	return len(sw.stamps)
}

// WaitTime returns how long an acquisition of cost would wait now.
func (sw *SlidingWindow) WaitTime(cost int) time.Duration {
	if !sw.config.Enabled {
		return 0
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock.Now()
	sw.trim(now)
	return sw.waitLocked(now, cost)
}

// State implements Limiter.
func (sw *SlidingWindow) State() State {
	remaining := sw.config.MaxRequests
	if sw.config.Enabled {
		remaining -= sw.RequestCount()
	}

	s := State{
		Algorithm:  AlgorithmSlidingWindow,
		Enabled:    sw.config.Enabled,
		Capacity:   sw.config.MaxRequests,
		Remaining:  float64(remaining),
		Window:     sw.config.Window,
		RetryAfter: sw.WaitTime(1),
		ObservedAt: sw.clock.Now(),
	}
	s.UpdateHealth()
	return s
}
