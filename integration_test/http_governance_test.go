package integration_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobeaver/ingest/httpkit"
)

// newGovernedClient builds a client whose "origin" bucket admits fast
// enough that rate limiting never dominates the timings under test.
func newGovernedClient(t *testing.T, retry httpkit.RetryConfig) *httpkit.Client {
	t.Helper()
	client, err := httpkit.New(httpkit.Config{
		Timeout: 5 * time.Second,
		Retry:   retry,
		RateLimits: map[string]httpkit.RateLimitConfig{
			"origin": {QPS: 100, Concurrency: 10},
		},
	})
	if err != nil {
		t.Fatalf("httpkit.New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConditionalRequest_ServesCachedBodyOn304(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"version":1}`))
	}))
	defer srv.Close()

	client := newGovernedClient(t, httpkit.RetryConfig{})
	ctx := context.Background()
	req := httpkit.RequestConfig{
		URL:      srv.URL + "/items",
		ETagKey:  "origin:u1:items",
		Provider: "origin",
	}

	first, err := client.Request(ctx, req)
	if err != nil {
		t.Fatalf("first Request() error = %v", err)
	}
	if first.Status != http.StatusOK || first.Cached {
		t.Errorf("first response = status %d cached %v, want 200 uncached", first.Status, first.Cached)
	}

	second, err := client.Request(ctx, req)
	if err != nil {
		t.Fatalf("second Request() error = %v", err)
	}
	if second.Status != http.StatusNotModified {
		t.Errorf("second response status = %d, want 304", second.Status)
	}
	if !second.Cached {
		t.Errorf("second response not served from cache")
	}
	if !bytes.Equal(second.Data, []byte(`{"version":1}`)) {
		t.Errorf("second response body = %s, want the cached payload verbatim", second.Data)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("origin saw %d requests, want 2", got)
	}
}

func TestRateLimited_RetryAfterDelaysUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	// BaseDelay is tiny on purpose: the waits measured below must come
	// from the server's Retry-After, not from backoff.
	client := newGovernedClient(t, httpkit.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
	})

	start := time.Now()
	resp, err := client.Request(context.Background(), httpkit.RequestConfig{
		URL:      srv.URL + "/items",
		Provider: "origin",
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if !bytes.Equal(resp.Data, []byte(`{"ok":true}`)) {
		t.Errorf("body = %s, want the 200 payload", resp.Data)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("origin saw %d attempts, want 3", got)
	}
	if elapsed < 2*time.Second {
		t.Errorf("elapsed = %v, want at least 2s of server-requested delay", elapsed)
	}
}
