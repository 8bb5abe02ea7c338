package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// memoryItem carries the per-entry lifetime alongside the value so the
// expiry calculator can honour a different TTL for every write.
type memoryItem struct {
	value any
	ttl   time.Duration
}

// MemoryStore is an in-process Store using otter. Size is bounded by
// maxSize; otter evicts by its frequency-aware policy when full.
type MemoryStore struct {
	cache      *otter.Cache[string, memoryItem]
	defaultTTL time.Duration
	counter    *stats.Counter
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ KeyLister = (*MemoryStore)(nil)
)

// NewMemoryStore creates an in-memory store holding at most maxSize entries.
// defaultTTL applies to writes that pass a non-positive ttl.
func NewMemoryStore(maxSize int, defaultTTL time.Duration) (*MemoryStore, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max size must be positive (got %d)", maxSize)
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("default ttl must be positive (got %s)", defaultTTL)
	}

	counter := stats.NewCounter()
	cache, err := otter.New(&otter.Options[string, memoryItem]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
		ExpiryCalculator: otter.ExpiryWritingFunc[string, memoryItem](func(entry otter.Entry[string, memoryItem]) time.Duration {
			return entry.Value.ttl
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("create otter cache: %w", err)
	}

	return &MemoryStore{
		cache:      cache,
		defaultTTL: defaultTTL,
		counter:    counter,
	}, nil
}

// Get retrieves a value from the cache.
func (m *MemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	item, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false, nil
	}
	return item.value, true, nil
}

// Set stores a value in the cache.
func (m *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.cache.Set(key, memoryItem{value: value, ttl: ttl})
	return nil
}

// Delete removes a value from the cache.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Clear removes every value from the cache.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.cache.InvalidateAll()
	return nil
}

// Keys lists the keys currently held.
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, m.cache.EstimatedSize())
	for key := range m.cache.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

// Len returns the approximate number of entries held.
func (m *MemoryStore) Len() int {
	return m.cache.EstimatedSize()
}

// Stats returns otter's hit and miss counters for this store.
func (m *MemoryStore) Stats() stats.Stats {
	return m.counter.Snapshot()
}
