// Package cache provides TTL-aware response caching for the KRA client.
//
// The package is split into two layers:
//
//   - Store is the backend contract (get, set, delete, clear). MemoryStore
//     is the bundled implementation: a bounded, in-process cache built on
//     otter with per-entry expiry. Other backends only need to satisfy Store.
//   - Manager sits on top of a Store. It derives deterministic keys, wraps
//     values in an Entry carrying an absolute expiry, and never lets a
//     backend failure reach the caller: errors are logged, counted and
//     treated as a miss.
//
// # Basic Usage
//
//	manager, err := cache.NewManager(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	key := cache.GenerateKey("pin", map[string]any{"pin_number": "P051234567A"})
//
//	result, err := manager.GetOrSet(ctx, key, func(ctx context.Context) (any, error) {
//		return fetchFromAPI(ctx)
//	}, cache.DefaultTTL)
//
// # Keys
//
// GenerateKey serialises the parameter map in sorted key order and hashes it
// with xxhash, producing "{prefix}:{16 hex digits}". Insertion order of the
// parameters never changes the key.
//
// # Concurrent misses
//
// GetOrSet runs at most one computation per key at a time. Callers that miss
// while a computation for the same key is in flight wait for it and share its
// result, including its error. Errors are never cached. A caller whose
// context ends stops waiting without failing the others; the computation is
// cancelled only when no caller is left waiting for it.
//
// # Metrics
//
//   - kra_cache_hits_total - Cache hits
//   - kra_cache_misses_total - Cache misses
//   - kra_cache_expired_total - Entries found past their expiry
//   - kra_cache_shared_loads_total - Misses served by an in-flight computation
//   - kra_cache_errors_total{operation} - Backend errors (swallowed)
package cache
