package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	crmRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_retries_total",
		Help: "Total number of retry attempts by trigger",
	}, []string{"trigger"})

	crmRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_retry_backoff_seconds",
		Help:    "Backoff duration before retry attempts",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	})

	crmRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted",
	})
)

// DefaultMaxRetries is the number of retries after the initial attempt.
const DefaultMaxRetries = 3

// backoffFor computes how long to wait before the next attempt. A
// Retry-After value from the previous response takes precedence;
// otherwise the wait is 2^attempt seconds (attempt counted from zero).
func backoffFor(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

// sleepFunc waits for d or until ctx is cancelled. Replaced in tests.
type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepWithContext is the production sleepFunc.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
