package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL asks Set and GetOrSet to use the manager's configured TTL.
const DefaultTTL time.Duration = 0

// Config holds cache configuration.
type Config struct {
	// Enabled is the master switch for all reads and writes.
	Enabled bool

	// TTL is the default lifetime of an entry.
	TTL time.Duration

	// MaxSize bounds the number of entries in the default memory store.
	MaxSize int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		TTL:     time.Hour,
		MaxSize: 1000,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive (got %s)", c.TTL)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("cache max_size must be positive (got %d)", c.MaxSize)
	}
	return nil
}

// ComputeFunc produces a value on a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Manager handles caching operations on top of a Store.
type Manager struct {
	store  Store
	config Config
	clock  clock.Clock
	logger zerolog.Logger
	loads  singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by the callers waiting on one computation.
// It is cancelled once every waiter has returned.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option customises a Manager.
type Option func(*Manager)

// WithStore replaces the default in-memory store.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithClock sets the clock used to stamp and check expiry.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a cache manager. Without WithStore, a MemoryStore sized
// by cfg.MaxSize is used.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:  cfg,
		clock:   clock.New(),
		logger:  log.With().Str("component", "cache").Logger(),
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		store, err := NewMemoryStore(cfg.MaxSize, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
		m.store = store
	}

	m.logger.Info().
		Bool("enabled", cfg.Enabled).
		Dur("ttl", cfg.TTL).
		Int("max_size", cfg.MaxSize).
		Msg("Cache manager initialized")

	return m, nil
}

// Enabled reports whether caching is switched on.
func (m *Manager) Enabled() bool {
	return m.config.Enabled
}

// GenerateKey derives a deterministic key; see the package-level GenerateKey.
func (m *Manager) GenerateKey(prefix string, params map[string]any) string {
	return GenerateKey(prefix, params)
}

// Get retrieves a live value. Backend failures, expired entries and a
// disabled cache all read as a miss.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	if !m.config.Enabled {
		return nil, false
	}

	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache get error")
		CacheMisses.Inc()
		return nil, false
	}
	if !found {
		CacheMisses.Inc()
		m.logger.Debug().Str("cache_key", key).Msg("Cache miss")
		return nil, false
	}

	entry, wrapped := raw.(*Entry)
	if !wrapped {
		CacheHits.Inc()
		return raw, true
	}

	if entry.IsExpired(m.clock.Now()) {
		CacheExpired.Inc()
		CacheMisses.Inc()
		m.logger.Debug().Str("cache_key", key).Msg("Cache entry expired")
		m.Delete(ctx, key)
		return nil, false
	}

	CacheHits.Inc()
	m.logger.Debug().Str("cache_key", key).Msg("Cache hit")
	return entry.Value, true
}

// Set stores value under key for ttl (DefaultTTL uses the configured TTL).
// A negative ttl or a disabled cache makes Set a no-op. Backend failures
// are logged and swallowed.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !m.config.Enabled {
		return
	}

	if ttl == DefaultTTL {
		ttl = m.config.TTL
	}
	if ttl <= 0 {
		m.logger.Debug().Str("cache_key", key).Msg("Skipping cache set due to non-positive TTL")
		return
	}

	now := m.clock.Now()
	entry := &Entry{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CachedAt:  now,
	}

	if err := m.store.Set(ctx, key, entry, ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to cache value")
		return
	}

	m.logger.Debug().Str("cache_key", key).Dur("ttl", ttl).Msg("Cached value")
}

// Delete removes key. Best effort.
func (m *Manager) Delete(ctx context.Context, key string) {
	if !m.config.Enabled {
		return
	}

	if err := m.store.Delete(ctx, key); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache delete error")
	}
}

// Clear removes every entry. Best effort.
func (m *Manager) Clear(ctx context.Context) {
	if !m.config.Enabled {
		return
	}

	if err := m.store.Clear(ctx); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		m.logger.Warn().Err(err).Msg("Cache clear error")
		return
	}

	m.logger.Debug().Msg("Cache cleared")
}

// GetOrSet returns the live value for key, or runs compute, stores its
// result for ttl and returns it. A hit never calls compute.
//
// Concurrent misses on the same key share one compute call; the waiting
// callers receive the same value or error. A failed compute stores nothing.
// Each caller stops waiting when its own ctx ends. The shared compute keeps
// ctx values but is cancelled only after every waiting caller has gone.
func (m *Manager) GetOrSet(ctx context.Context, key string, compute ComputeFunc, ttl time.Duration) (any, error) {
	if !m.config.Enabled {
		return compute(ctx)
	}

	if value, ok := m.Get(ctx, key); ok {
		return value, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	f, ok := m.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		m.flights[key] = f
	}
	f.waiters++
	results := m.loads.DoChan(key, func() (any, error) {
		// A computation that finished between our miss and joining the
		// group has already stored its value.
		if value, ok := m.Get(f.ctx, key); ok {
			return value, nil
		}

		m.logger.Debug().Str("cache_key", key).Msg("Cache miss, computing value")
		value, err := compute(f.ctx)
		if err != nil {
			return nil, err
		}

		m.Set(f.ctx, key, value, ttl)
		return value, nil
	})
	m.mu.Unlock()
	defer m.leave(key, f)

	select {
	case res := <-results:
		if res.Shared {
			CacheSharedLoads.Inc()
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// leave drops one waiter from f and cancels it when none remain.
func (m *Manager) leave(key string, f *flight) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if m.flights[key] == f {
		delete(m.flights, key)
		// Later callers start a fresh computation instead of joining the
		// cancelled one.
		m.loads.Forget(key)
	}
}

// InvalidatePattern deletes every key matching the glob pattern (path.Match
// syntax, e.g. "pin:*") and returns how many were removed. Stores that
// cannot list their keys yield apierror.ErrCacheUnsupported.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if !m.config.Enabled {
		return 0, nil
	}

	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	lister, ok := m.store.(KeyLister)
	if !ok {
		m.logger.Warn().Str("pattern", pattern).Msg("Pattern invalidation not supported for this cache backend")
		return 0, fmt.Errorf("invalidate %q: %w", pattern, apierror.ErrCacheUnsupported)
	}

	keys, err := lister.Keys(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return 0, fmt.Errorf("list cache keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		matched, _ := path.Match(pattern, key)
		if !matched {
			continue
		}
		if err := m.store.Delete(ctx, key); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache delete error")
			continue
		}
		removed++
	}

	m.logger.Debug().Int("removed", removed).Str("pattern", pattern).Msg("Invalidated keys matching pattern")
	return removed, nil
}

// IsUnsupported reports whether err means the backend cannot perform an
// operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, apierror.ErrCacheUnsupported)
}
