package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitAcquisitions counts acquisition outcomes.
	RateLimitAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kra_rate_limit_acquisitions_total",
			Help: "Total number of rate limit acquisitions by outcome",
		},
		[]string{"algorithm", "outcome"}, // outcome: "granted", "denied", "timeout", "canceled"
	)

	// RateLimitWait tracks time spent waiting for capacity.
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kra_rate_limit_wait_seconds",
			Help:    "Time spent waiting for rate limit capacity",
			Buckets: []float64{0, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"algorithm"},
	)
)
