package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Retries counts retry attempts by error class.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kra_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	// RetryBackoff tracks the delay slept before each retry.
	RetryBackoff = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kra_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	// RetryExhausted counts operations that ran out of attempts.
	RetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kra_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)
