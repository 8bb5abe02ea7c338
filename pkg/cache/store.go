package cache

import (
	"context"
	"time"
)

// Store is the backend contract the Manager builds on.
type Store interface {
	// Get retrieves a value from the store.
	// Returns the value, whether it was found, and any error.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores a value that the backend may drop after ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every value.
	Clear(ctx context.Context) error
}

// KeyLister is implemented by stores that can enumerate their keys.
// Pattern invalidation is only available on such stores.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}
