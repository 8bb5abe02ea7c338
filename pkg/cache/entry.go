package cache

import (
	"time"
)

// Entry is a cached value with its absolute expiry.
type Entry struct {
	// Value is the cached payload.
	Value any

	// ExpiresAt is when the entry becomes dead.
	ExpiresAt time.Time

	// CachedAt is when the entry was stored.
	CachedAt time.Time
}

// IsExpired reports whether the entry is dead at now.
// An entry is dead from the instant now reaches ExpiresAt.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time left until expiry at now.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
