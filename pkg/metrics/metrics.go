// Package metrics provides the centralized Prometheus metrics registry for
// the CRM gateway. All metrics are defined in their respective packages
// (client, cache, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the gateway.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - crm_rate_limit_in_window (Gauge): Requests currently counted against the sliding window
//   - crm_rate_limit_waits_total (Counter): Acquisitions that had to wait for window capacity
//   - crm_rate_limit_wait_seconds (Histogram): Time spent waiting for window capacity
//
// Cache Metrics (pkg/cache):
//   - crm_cache_hits_total (Counter): Reads served from a fresh cache snapshot
//   - crm_cache_misses_total (Counter): Reads that required a remote fetch
//   - crm_cache_refreshes_total (Counter): Successful snapshot refreshes from the remote API
//   - crm_cache_stale_serves_total (Counter): Stale snapshots served after a remote failure
//   - crm_cache_store_errors_total{operation} (Counter): Cache store operation errors
//
// Request Metrics (pkg/client):
//   - crm_requests_total{path, status} (Counter): Total requests by path and HTTP status
//   - crm_request_duration_seconds{path} (Histogram): Request duration by path
//   - crm_errors_total{class} (Counter): Errors by class (config, transient, not_found, client, server)
//
// Retry Metrics (pkg/client):
//   - crm_retries_total{trigger} (Counter): Retry attempts by trigger (transport error or status code)
//   - crm_retry_backoff_seconds (Histogram): Backoff duration before retries
//   - crm_retry_exhausted_total (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(crm_cache_hits_total[5m])) /
//   (sum(rate(crm_cache_hits_total[5m])) + sum(rate(crm_cache_misses_total[5m])))
//
//   # Stale Serve Rate
//   rate(crm_cache_stale_serves_total[5m])
//
//   # Request Error Rate
//   rate(crm_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(crm_request_duration_seconds_bucket[5m]))
//
//   # Rate Limit Pressure
//   crm_rate_limit_in_window / 95
