package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for cache operations.
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_hits_total",
		Help: "Point lookups served from the cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_misses_total",
		Help: "Point lookups that fell through to the remote platform",
	})

	cacheRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_refreshes_total",
		Help: "Full-collection refreshes triggered by staleness",
	})

	cacheStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_stale_serves_total",
		Help: "List reads served from a stale snapshot after a remote failure",
	})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_cache_store_errors_total",
		Help: "Cache store operation errors by operation",
	}, []string{"operation"})
)
