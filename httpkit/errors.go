package httpkit

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	// ErrCircuitOpen indicates the provider circuit breaker rejected the
	// request before any network activity.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetries indicates the retry budget was exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// maxErrorBody caps how much response body an error carries.
const maxErrorBody = 512

// ClientError reports a non-retryable 4xx response.
type ClientError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	return fmt.Sprintf("client error: status %d: %s", e.Status, e.Body)
}

// HTTPStatus returns the response status code.
func (e *ClientError) HTTPStatus() int {
	return e.Status
}

// ServerError reports a 5xx response.
type ServerError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d: %s", e.Status, e.Body)
}

// HTTPStatus returns the response status code.
func (e *ServerError) HTTPStatus() int {
	return e.Status
}

// RetryAfterHint returns the server-requested delay, if any.
func (e *ServerError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// RateLimitError reports a 429 response with the provider's requested
// backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// HTTPStatus returns 429.
func (e *RateLimitError) HTTPStatus() int {
	return 429
}

// RetryAfterHint returns the server-requested delay, if any.
func (e *RateLimitError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// NetworkError reports a transport failure before any response arrived.
type NetworkError struct {
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("network timeout: %v", e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// statusCoder is implemented by errors that carry an HTTP status, which
// drives retryability decisions.
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterer is implemented by errors carrying a server-requested
// backoff delay.
type retryAfterer interface {
	RetryAfterHint() time.Duration
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
