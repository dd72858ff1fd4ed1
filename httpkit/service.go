// Package httpkit provides the governed HTTP client the SDK routes all
// provider traffic through: per-provider rate limiting, circuit
// breaking, bounded retries, and ETag-based conditional revalidation.
package httpkit

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gobeaver/ingest/metrics"
)

const (
	// DefaultTimeout bounds each attempt, not the aggregate retries.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is sent when the caller supplies none.
	DefaultUserAgent = "ingest-sdk/1.0"
)

// Config assembles a governed client.
type Config struct {
	// Timeout is the per-attempt request timeout. Default 30s.
	Timeout time.Duration `env:"TIMEOUT" json:"timeout"`

	// DisableKeepAlives turns off connection reuse.
	DisableKeepAlives bool `env:"DISABLE_KEEP_ALIVES" json:"disableKeepAlives"`

	// ProxyURL routes requests through a forward proxy. Empty uses the
	// environment's proxy settings.
	ProxyURL string `env:"PROXY_URL" json:"proxyUrl"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `env:"USER_AGENT" json:"userAgent"`

	// Retry configures the backoff loop.
	Retry RetryConfig `json:"retry"`

	// Breaker configures the per-provider circuit breakers.
	Breaker BreakerConfig `json:"breaker"`

	// RateLimits holds per-provider admission rates.
	RateLimits map[string]RateLimitConfig `json:"rateLimits"`

	// CacheSize bounds the ETag cache. Default 1000 entries.
	CacheSize int `env:"CACHE_SIZE" json:"cacheSize"`

	// CacheTTL expires ETag entries; zero keeps them until evicted.
	CacheTTL time.Duration `json:"cacheTtl"`

	// Collector receives request metrics. Nil disables them.
	Collector metrics.Collector `json:"-"`
}

// RequestConfig describes a single governed request.
type RequestConfig struct {
	URL     string
	Method  string
	Headers map[string]string
	Query   map[string]string
	Body    []byte

	// Timeout overrides the client's per-attempt timeout.
	Timeout time.Duration

	// ETagKey enables conditional revalidation: the cached ETag is sent
	// as If-None-Match and a 304 answers from the cached payload.
	ETagKey string

	// SkipRateLimit bypasses admission control, for traffic that calls
	// a provider outside its data-plane budget.
	SkipRateLimit bool

	// Provider overrides host-based classification.
	Provider string
}

// Response is the outcome of a governed request.
type Response struct {
	Data    []byte
	Status  int
	Headers map[string]string
	Cached  bool
}

// Client is the governed HTTP client. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cache      *ETagCache
	breakers   *BreakerSet
	limiter    *RateLimiter
	retrier    *Retrier
	collector  metrics.Collector
	timeout    time.Duration
	userAgent  string
}

// New builds a governed client from config, applying defaults for any
// zero field.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultETagCacheSize
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.NewNoop()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	breakers := NewBreakerSet(cfg.Breaker, cfg.Collector)

	return &Client{
		httpClient: &http.Client{Transport: transport},
		cache:      NewETagCache(cfg.CacheSize, cfg.CacheTTL),
		breakers:   breakers,
		limiter:    NewRateLimiter(cfg.RateLimits, cfg.Collector),
		retrier:    NewRetrier(cfg.Retry, breakers),
		collector:  cfg.Collector,
		timeout:    cfg.Timeout,
		userAgent:  cfg.UserAgent,
	}, nil
}

// Request runs one governed request: breaker gate, rate-limiter
// admission, retries around the transport, and ETag revalidation.
func (c *Client) Request(ctx context.Context, cfg RequestConfig) (*Response, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	provider := cfg.Provider
	if provider == "" {
		provider = classifyProvider(cfg.URL)
	}

	c.collector.CounterInc(metrics.HTTPRequestsTotal, map[string]string{
		"provider": provider, "method": method, "status": "initiated",
	})

	if !c.breakers.CanExecute(provider) {
		return nil, fmt.Errorf("provider %s: %w", provider, ErrCircuitOpen)
	}

	fullURL, err := buildURL(cfg.URL, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	if !cfg.SkipRateLimit {
		if err := c.limiter.Acquire(ctx, provider); err != nil {
			return nil, err
		}
		defer c.limiter.Release(provider)
	}

	start := time.Now()
	resp, err := c.retrier.Do(ctx, provider, func() (*Response, error) {
		return c.attempt(ctx, provider, method, fullURL, cfg)
	})
	c.collector.Observe(metrics.HTTPRequestDuration, map[string]string{"provider": provider}, time.Since(start).Seconds())

	if err != nil {
		c.collector.CounterInc(metrics.HTTPRequestsTotal, map[string]string{
			"provider": provider, "method": method, "status": "error",
		})
		return nil, err
	}

	c.collector.CounterInc(metrics.HTTPRequestsTotal, map[string]string{
		"provider": provider, "method": method, "status": strconv.Itoa(resp.Status),
	})
	return resp, nil
}

// Get issues a governed GET.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return c.Request(ctx, RequestConfig{URL: rawURL, Method: http.MethodGet, Headers: headers})
}

// Post issues a governed POST with the given body.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	return c.Request(ctx, RequestConfig{URL: rawURL, Method: http.MethodPost, Body: body, Headers: headers})
}

// attempt performs one HTTP round trip and classifies its outcome.
func (c *Client) attempt(ctx context.Context, provider, method, fullURL string, cfg RequestConfig) (*Response, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	// Setting Accept-Encoding by hand disables the transport's automatic
	// gzip handling, so decompression happens below.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if cfg.ETagKey != "" {
		if entry := c.cache.Get(cfg.ETagKey); entry != nil {
			req.Header.Set("If-None-Match", entry.ETag)
		}
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.breakers.RecordFailure(provider)
		return nil, &NetworkError{Timeout: isTimeout(err), Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.breakers.RecordFailure(provider)
		return nil, &NetworkError{Timeout: isTimeout(err), Err: fmt.Errorf("read body: %w", err)}
	}

	data, err := decompress(httpResp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		c.breakers.RecordFailure(provider)
		return nil, &NetworkError{Err: fmt.Errorf("decompress body: %w", err)}
	}

	status := httpResp.StatusCode
	if status >= 400 {
		c.breakers.RecordFailure(provider)
		return nil, classifyStatus(status, data, httpResp.Header)
	}

	c.breakers.RecordSuccess(provider)
	headers := lowercaseHeaders(httpResp.Header)

	if status == http.StatusNotModified && cfg.ETagKey != "" {
		if entry := c.cache.Get(cfg.ETagKey); entry != nil {
			c.collector.CounterInc(metrics.ETagCacheEventsTotal, map[string]string{
				"provider": provider, "event": "hit",
			})
			return &Response{Data: entry.Payload, Status: status, Headers: headers, Cached: true}, nil
		}
	}

	if etag := headers["etag"]; etag != "" && cfg.ETagKey != "" {
		c.cache.Set(cfg.ETagKey, etag, data)
		c.collector.CounterInc(metrics.ETagCacheEventsTotal, map[string]string{
			"provider": provider, "event": "store",
		})
	}

	return &Response{Data: data, Status: status, Headers: headers}, nil
}

// Breakers exposes the circuit breaker set for health reporting.
func (c *Client) Breakers() *BreakerSet {
	return c.breakers
}

// Cache exposes the ETag cache.
func (c *Client) Cache() *ETagCache {
	return c.cache
}

// Close stops the rate limiter's release loops and drops idle
// connections.
func (c *Client) Close() error {
	c.limiter.Close()
	c.httpClient.CloseIdleConnections()
	return nil
}

// buildURL appends query parameters to a base URL.
func buildURL(rawURL string, query map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// classifyProvider buckets a URL host into a provider name for rate
// limiting, breaker state, and metrics.
func classifyProvider(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "default"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "github"):
		return "github"
	case strings.Contains(host, "google"):
		return "google"
	case strings.Contains(host, "reddit"):
		return "reddit"
	case strings.Contains(host, "twitter"), host == "x.com", strings.HasSuffix(host, ".x.com"):
		return "twitter"
	default:
		return "default"
	}
}

// classifyStatus maps an error status to the typed error hierarchy.
func classifyStatus(status int, body []byte, header http.Header) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header)}
	case status >= 500:
		return &ServerError{Status: status, Body: truncateBody(body), RetryAfter: parseRetryAfter(header)}
	default:
		return &ClientError{Status: status, Body: truncateBody(body)}
	}
}

// isTimeout reports whether a transport error was a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// lowercaseHeaders flattens response headers into a lowercase-keyed map.
func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		out[strings.ToLower(k)] = strings.Join(values, ", ")
	}
	return out
}

// decompress expands a body per its Content-Encoding.
func decompress(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		// Both zlib-wrapped and raw deflate streams occur in the wild.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			out, err := io.ReadAll(zr)
			zr.Close()
			if err == nil {
				return out, nil
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	default:
		return raw, nil
	}
}
