package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kra_cache_hits_total",
			Help: "Total number of KRA cache hits",
		},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kra_cache_misses_total",
			Help: "Total number of KRA cache misses",
		},
	)

	// CacheExpired tracks entries found past their expiry
	CacheExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kra_cache_expired_total",
			Help: "Total number of KRA cache entries discarded on read because they had expired",
		},
	)

	// CacheSharedLoads tracks misses that waited on an in-flight computation
	CacheSharedLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kra_cache_shared_loads_total",
			Help: "Total number of cache misses served by an in-flight computation for the same key",
		},
	)

	// CacheErrors tracks cache backend errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kra_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear", "keys"
	)
)
