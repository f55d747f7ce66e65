// Package ratelimit implements a sliding-window rate limiter that paces
// outbound requests to the CRM platform. It keeps request rate below the
// platform ceiling so bursts of concurrent operations (cache refresh,
// association resolution, search) never trigger a remote 429 storm.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limiter operations.
var (
	crmRateLimitInWindow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_rate_limit_in_window",
		Help: "Number of requests recorded in the current sliding window",
	})

	crmRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_rate_limit_waits_total",
		Help: "Total number of acquires that had to wait for window capacity",
	})

	crmRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_rate_limit_wait_seconds",
		Help:    "Time spent waiting for window capacity",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})
)

// Default window parameters. 95 requests per 10 seconds leaves headroom
// below the platform's documented 100/10s ceiling.
const (
	DefaultMaxRequests = 95
	DefaultWindow      = 10 * time.Second
)

// Limiter bounds outbound call rate using a sliding window of request
// timestamps. One Limiter must be shared by every operation issuing
// requests under the same credential.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	stamps      []time.Time

	now    func() time.Time
	logger zerolog.Logger
}

// New creates a limiter allowing maxRequests per rolling window.
// Non-positive arguments fall back to the defaults.
func New(maxRequests int, window time.Duration, logger zerolog.Logger) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		logger:      logger,
	}
}

// Acquire blocks until one more request can be issued without exceeding
// the window limit, then records the request. It returns early with the
// context error if ctx is cancelled while waiting.
//
// The mutex is held across the wait: waiters drain in arrival order and
// always observe a consistent window.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.stamps) >= l.maxRequests {
		wait := l.window - now.Sub(l.stamps[0])
		if wait > 0 {
			l.logger.Warn().
				Int("in_window", len(l.stamps)).
				Dur("wait", wait).
				Msg("Rate limit window full - pacing request")

			crmRateLimitWaitsTotal.Inc()
			crmRateLimitWaitSeconds.Observe(wait.Seconds())

			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		// Conservative reset: the whole window has been paid for, start
		// counting from scratch rather than re-deriving partial occupancy.
		l.stamps = l.stamps[:0]
		now = l.now()
	}

	l.stamps = append(l.stamps, now)
	crmRateLimitInWindow.Set(float64(len(l.stamps)))
	return nil
}

// InWindow reports how many requests are currently recorded in the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// prune drops timestamps that have slid out of the window.
// Caller must hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// setClock replaces the time source (for testing).
func (l *Limiter) setClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
