package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the gateway.
var (
	// ErrMissingToken is returned when no access token is configured.
	ErrMissingToken = errors.New("access token is not configured")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a backoff wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass classifies a failed gateway call.
type ErrorClass string

const (
	// ErrorClassConfig marks missing or invalid credentials. Fatal, never retried.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassTransient marks transport failures, 429 and retryable 5xx
	// responses. Retried up to the policy limit, then surfaced.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassNotFound marks 404 responses. Surfaced immediately.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassClient marks other 4xx responses, indicating a caller bug.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer marks unexpected non-2xx responses.
	ErrorClassServer ErrorClass = "server"
)

// maxRawMessageLen bounds the human-readable message extracted from an
// unstructured error body.
const maxRawMessageLen = 512

// APIError is a classified failure of a CRM platform call.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Body       []byte
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crm %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("crm %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsClass reports whether err is an APIError of the given class.
func IsClass(err error, class ErrorClass) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == class
}

// IsNotFound reports whether err represents a 404 from the platform.
func IsNotFound(err error) bool {
	return IsClass(err, ErrorClassNotFound)
}

// IsTransient reports whether err represents an exhausted transient failure.
func IsTransient(err error) bool {
	return IsClass(err, ErrorClassTransient)
}

// retryable reports whether a response status should be retried.
// Matches the platform's documented transient statuses.
func retryable(status int) bool {
	switch status {
	case 429, 500, 502, 503:
		return true
	default:
		return false
	}
}

// classifyStatus maps a non-retryable, non-2xx status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 404:
		return ErrorClassNotFound
	case status >= 400 && status < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// errorBody is the structured shape CRM error responses usually carry.
type errorBody struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// extractMessage pulls a human-readable message from an error response
// body, preferring structured fields over truncated raw text.
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return "empty response body"
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Status != "" {
			return parsed.Status
		}
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > maxRawMessageLen {
		raw = raw[:maxRawMessageLen]
	}
	return raw
}
