// Package metrics is the reference for the Prometheus metrics exported by
// the KRA client. Each metric is defined in the package that records it
// (cache, ratelimit, retry, client) and registered via promauto on the
// default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every KRA metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer exposes the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - kra_cache_hits_total (Counter): Live entries returned
//   - kra_cache_misses_total (Counter): Lookups that found nothing
//   - kra_cache_expired_total (Counter): Entries found past their expiry and removed
//   - kra_cache_shared_loads_total (Counter): Callers that joined an in-flight load
//   - kra_cache_errors_total{operation} (Counter): Backend failures, swallowed
//
// Rate Limit Metrics (pkg/ratelimit):
//   - kra_rate_limit_acquisitions_total{algorithm, outcome} (Counter):
//     outcome is granted, denied, timeout or canceled
//   - kra_rate_limit_wait_seconds{algorithm} (Histogram): Time spent waiting before a grant
//
// Retry Metrics (pkg/retry):
//   - kra_retries_total{error_class} (Counter): Retry attempts by error class
//   - kra_retry_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - kra_retry_exhausted_total{error_class} (Counter): Operations that used every attempt
//
// Request Metrics (pkg/client):
//   - kra_requests_total{operation, status} (Counter): status is success,
//     cache_hit or the error class
//   - kra_request_duration_seconds{operation} (Histogram): End-to-end duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(kra_cache_hits_total[5m])) /
//   (sum(rate(kra_cache_hits_total[5m])) + sum(rate(kra_cache_misses_total[5m])))
//
//   # Share of acquisitions that had to wait or were refused
//   sum(rate(kra_rate_limit_acquisitions_total{outcome!="granted"}[5m]))
//
//   # Server errors after retries
//   rate(kra_requests_total{status="server"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(kra_request_duration_seconds_bucket[5m]))
