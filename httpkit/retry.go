package httpkit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gobeaver/ingest/logkit"
)

// RetryConfig configures the retry loop around transport attempts.
type RetryConfig struct {
	// MaxRetries bounds retries after the initial attempt. Default 3.
	MaxRetries int `env:"MAX_RETRIES,default:3" json:"maxRetries"`

	// BaseDelay seeds the exponential backoff. Default 1s.
	BaseDelay time.Duration `json:"baseDelay"`

	// MaxDelay caps the backoff. Default 30s.
	MaxDelay time.Duration `json:"maxDelay"`

	// RetryableStatusCodes lists the statuses worth retrying.
	// Default 429, 500, 502, 503, 504.
	RetryableStatusCodes []int `env:"RETRYABLE_STATUS_CODES" json:"retryableStatusCodes"`
}

// Retrier reruns failed attempts with exponential backoff, honoring
// server-requested delays and the provider circuit breaker.
type Retrier struct {
	cfg       RetryConfig
	breakers  *BreakerSet
	retryable map[int]bool
}

// NewRetrier builds a retrier. A nil breaker set disables the gate
// recheck between attempts.
func NewRetrier(cfg RetryConfig, breakers *BreakerSet) *Retrier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if len(cfg.RetryableStatusCodes) == 0 {
		cfg.RetryableStatusCodes = []int{429, 500, 502, 503, 504}
	}

	retryable := make(map[int]bool, len(cfg.RetryableStatusCodes))
	for _, code := range cfg.RetryableStatusCodes {
		retryable[code] = true
	}

	return &Retrier{cfg: cfg, breakers: breakers, retryable: retryable}
}

// Do runs fn until it succeeds, fails non-retryably, or exhausts the
// retry budget. Only errors exposing a retryable HTTP status are retried;
// network errors carry no status and fail fast, since the breaker handles
// flapping hosts.
func (r *Retrier) Do(ctx context.Context, provider string, fn func() (*Response, error)) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(lastErr, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			// The breaker may have opened while we slept.
			if r.breakers != nil && !r.breakers.CanExecute(provider) {
				return nil, lastErr
			}

			logkit.Debug("retrying request",
				"provider", provider,
				"attempt", attempt,
				"max_retries", r.cfg.MaxRetries,
				"error", lastErr,
			)
		}

		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// isRetryable reports whether the error carries a retryable HTTP status.
func (r *Retrier) isRetryable(err error) bool {
	var sc statusCoder
	if !errors.As(err, &sc) {
		return false
	}
	return r.retryable[sc.HTTPStatus()]
}

// delayFor picks the wait before the given attempt: a server-requested
// Retry-After wins; otherwise capped exponential backoff with jitter.
func (r *Retrier) delayFor(err error, attempt int) time.Duration {
	var ra retryAfterer
	if errors.As(err, &ra) {
		if hint := ra.RetryAfterHint(); hint > 0 {
			return hint
		}
	}

	backoff := float64(r.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := float64(rand.Int63n(int64(time.Second)))
	return time.Duration(math.Min(backoff+jitter, float64(r.cfg.MaxDelay)))
}

// parseRetryAfter reads a Retry-After header as integer seconds or an
// HTTP-date; anything else yields zero.
func parseRetryAfter(h http.Header) time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
