// Package ratelimit admits outgoing KRA requests at a configured rate.
//
// Two interchangeable algorithms sit behind the Limiter interface:
//
//   - TokenBucket refills capacity continuously and tolerates bursts up to
//     MaxRequests.
//   - SlidingWindow counts exact requests in the trailing Window and enforces
//     a hard cap over any interval of that length.
//
// Both support blocking, non-blocking and timeout-bounded acquisition, and
// an asynchronous variant that delivers the outcome on a channel. A limiter
// constructed from a disabled Config grants every request immediately.
package ratelimit

import (
	"time"
)

// Thresholds, as a fraction of capacity, used to classify limiter health.
const (
	// ThresholdCritical marks a limiter that will make the next caller wait.
	ThresholdCritical = 0.05

	// ThresholdWarning marks a limiter close to exhaustion.
	ThresholdWarning = 0.20

	// ThresholdHealthy is the level at or above which no pressure is reported.
	ThresholdHealthy = 0.50
)

// State is a point-in-time snapshot of a limiter, suitable for health
// endpoints and logs.
type State struct {
	// Algorithm is the admission algorithm in use.
	Algorithm Algorithm `json:"algorithm"`

	// Enabled is false when the limiter grants everything.
	Enabled bool `json:"enabled"`

	// Capacity is the configured maximum requests per window.
	Capacity int `json:"capacity"`

	// Remaining is the capacity available at ObservedAt. For the token
	// bucket this is fractional.
	Remaining float64 `json:"remaining"`

	// Window is the configured accounting window.
	Window time.Duration `json:"window"`

	// RetryAfter estimates how long a single-cost request would wait.
	RetryAfter time.Duration `json:"retry_after"`

	// ObservedAt is when the snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`

	// IsHealthy is true when Remaining is at least ThresholdHealthy of capacity.
	IsHealthy bool `json:"is_healthy"`
}

func (s *State) fraction() float64 {
	if !s.Enabled || s.Capacity <= 0 {
		return 1
	}
	return s.Remaining / float64(s.Capacity)
}

// NeedsCriticalBlock returns true if a request issued now would likely wait.
func (s *State) NeedsCriticalBlock() bool {
	return s.fraction() < ThresholdCritical
}

// NeedsThrottling returns true when remaining capacity is low but not exhausted.
func (s *State) NeedsThrottling() bool {
	return s.fraction() < ThresholdWarning && !s.NeedsCriticalBlock()
}

// IsStale returns true if the snapshot is older than maxAge relative to now.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.ObservedAt) > maxAge
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.fraction() >= ThresholdHealthy
}
