package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for KRA client operations.
var (
	// RequestsTotal counts operations by outcome: "success", "cache_hit",
	// or the error class of the failure.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kra_requests_total",
		Help: "Total KRA operations by operation and status",
	}, []string{"operation", "status"})

	// RequestDuration tracks end-to-end operation latency, including
	// rate limit waits and retries.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kra_request_duration_seconds",
		Help:    "KRA operation duration in seconds by operation",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})
)
