// Package client provides the core CRM platform gateway with rate
// limiting, typed retry/backoff, and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/crm-gateway/pkg/ratelimit"
)

// Prometheus metrics for gateway operations.
var (
	crmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_requests_total",
		Help: "Total CRM requests by path and status",
	}, []string{"path", "status"})

	crmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_request_duration_seconds",
		Help:    "CRM request duration in seconds by path",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	crmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_errors_total",
		Help: "Total CRM errors by class",
	}, []string{"class"})
)

// Config holds the gateway configuration. It is immutable after New;
// there is no process-wide settings state.
type Config struct {
	// BaseURL of the CRM platform API.
	BaseURL string

	// AccessToken is the bearer token for the platform. A gateway with an
	// empty token fails every request with a config-class error.
	AccessToken string

	// MaxRetries is the number of retries after the initial attempt for
	// transient failures.
	MaxRetries int

	// RequestTimeout bounds each individual HTTP attempt.
	RequestTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, accessToken string) Config {
	return Config{
		BaseURL:        baseURL,
		AccessToken:    accessToken,
		MaxRetries:     DefaultMaxRetries,
		RequestTimeout: 30 * time.Second,
	}
}

// Client is the CRM platform gateway. All outbound calls pass through a
// shared rate limiter; transient failures are retried with backoff.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
	sleep      sleepFunc
}

// New creates a gateway. The limiter is required: it must be the single
// instance shared by every operation under this credential.
func New(cfg Config, limiter *ratelimit.Limiter) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	logger := log.With().Str("component", "crm-gateway").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
		sleep:   sleepWithContext,
	}, nil
}

// Request performs one logical CRM call: limiter acquire before every
// attempt, bearer auth, retry with backoff on transport failures and
// transient statuses, immediate classification otherwise. A 204 or empty
// body is success with a nil result.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if c.config.AccessToken == "" {
		crmErrorsTotal.WithLabelValues(string(ErrorClassConfig)).Inc()
		return nil, &APIError{
			Class:   ErrorClassConfig,
			Message: "no CRM credential configured",
			Err:     ErrMissingToken,
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	startTime := time.Now()
	defer func() {
		crmRequestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	var lastFailure *transientFailure
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffFor(attempt-1, lastFailure.retryAfter)
			crmRetriesTotal.WithLabelValues(lastFailure.trigger()).Inc()
			crmRetryBackoffSeconds.Observe(wait.Seconds())

			c.logger.Debug().
				Str("path", path).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Retrying CRM request after backoff")

			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		result, failure, err := c.attempt(ctx, method, path, query, payload)
		if err != nil {
			return nil, err
		}
		if failure == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("path", path).
					Int("attempt", attempt+1).
					Msg("CRM request succeeded after retry")
			}
			return result, nil
		}
		lastFailure = failure
	}

	crmRetryExhaustedTotal.Inc()
	crmErrorsTotal.WithLabelValues(string(ErrorClassTransient)).Inc()
	c.logger.Warn().
		Str("path", path).
		Int("max_retries", c.config.MaxRetries).
		Err(lastFailure.err()).
		Msg("CRM retry attempts exhausted")

	apiErr := &APIError{
		Class:   ErrorClassTransient,
		Message: fmt.Sprintf("giving up after %d attempts", c.config.MaxRetries+1),
		Err:     fmt.Errorf("%w: %v", ErrRetryExhausted, lastFailure.err()),
	}
	apiErr.StatusCode = lastFailure.statusCode
	apiErr.Body = lastFailure.body
	return nil, apiErr
}

// attempt executes a single HTTP exchange. A non-nil transientFailure
// means the attempt failed but is eligible for retry; a non-nil error is
// final for this call.
func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, payload []byte) (json.RawMessage, *transientFailure, error) {
	req, err := c.newRequest(ctx, method, path, query, payload)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("CRM transport failure")
		crmRequestsTotal.WithLabelValues(path, "transport_error").Inc()
		return nil, &transientFailure{transportErr: err}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		crmRequestsTotal.WithLabelValues(path, "transport_error").Inc()
		return nil, &transientFailure{transportErr: fmt.Errorf("read response body: %w", err)}, nil
	}

	crmRequestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return nil, nil, nil
		}
		return json.RawMessage(respBody), nil, nil
	}

	if retryable(resp.StatusCode) {
		c.logger.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("CRM transient response")
		return nil, &transientFailure{
			statusCode: resp.StatusCode,
			body:       respBody,
			retryAfter: resp.Header.Get("Retry-After"),
		}, nil
	}

	class := classifyStatus(resp.StatusCode)
	crmErrorsTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("CRM request error")

	return nil, nil, &APIError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Message:    extractMessage(respBody),
		Body:       respBody,
	}
}

// newRequest builds one HTTP request with auth and content headers set.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, payload []byte) (*http.Request, error) {
	endpoint := c.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Get performs a GET request against the platform.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, path, query, nil)
}

// Post performs a POST request against the platform.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, path, nil, body)
}

// Patch performs a PATCH request against the platform.
func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPatch, path, nil, body)
}

// Delete performs a DELETE request against the platform.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Request(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// transientFailure records one failed attempt eligible for retry: either
// a transport failure or a retryable status, with the Retry-After hint
// preserved for the next backoff.
type transientFailure struct {
	transportErr error
	statusCode   int
	body         []byte
	retryAfter   string
}

func (f *transientFailure) err() error {
	if f.transportErr != nil {
		return f.transportErr
	}
	return fmt.Errorf("status %d: %s", f.statusCode, extractMessage(f.body))
}

func (f *transientFailure) trigger() string {
	if f.transportErr != nil {
		return "transport"
	}
	return fmt.Sprintf("%d", f.statusCode)
}
