package httpkit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/metrics"
)

func mustAcquire(t *testing.T, rl *httpkit.RateLimiter, provider string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx, provider); err != nil {
		t.Fatalf("Acquire(%s) error = %v", provider, err)
	}
}

func wantBlocked(t *testing.T, rl *httpkit.RateLimiter, provider string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx, provider); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire(%s) error = %v, want DeadlineExceeded", provider, err)
	}
}

func TestRateLimiterBatchThenBlocks(t *testing.T) {
	rl := httpkit.NewRateLimiter(map[string]httpkit.RateLimitConfig{
		"github": {QPS: 3, Concurrency: 10},
	}, nil)
	t.Cleanup(rl.Close)

	for i := 0; i < 3; i++ {
		mustAcquire(t, rl, "github")
	}
	wantBlocked(t, rl, "github")

	// The next one-second tick releases a fresh batch.
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx, "github"); err != nil {
		t.Fatalf("Acquire after tick error = %v", err)
	}
}

func TestRateLimiterLowQPSMode(t *testing.T) {
	rl := httpkit.NewRateLimiter(map[string]httpkit.RateLimitConfig{
		"rss": {QPS: 0.5, Concurrency: 4},
	}, nil)
	t.Cleanup(rl.Close)

	// qps < 1 releases a single permit per stretched interval.
	mustAcquire(t, rl, "rss")
	wantBlocked(t, rl, "rss")
}

func TestRateLimiterBurstAccumulation(t *testing.T) {
	rl := httpkit.NewRateLimiter(map[string]httpkit.RateLimitConfig{
		"github": {QPS: 2, Concurrency: 10, Burst: 4},
	}, nil)
	t.Cleanup(rl.Close)

	// Drain the seeded batch, then idle across two ticks: four permits
	// accumulate, capped at Burst.
	mustAcquire(t, rl, "github")
	mustAcquire(t, rl, "github")
	time.Sleep(2300 * time.Millisecond)

	for i := 0; i < 4; i++ {
		mustAcquire(t, rl, "github")
	}
	wantBlocked(t, rl, "github")
}

func TestRateLimiterConcurrencyCap(t *testing.T) {
	rl := httpkit.NewRateLimiter(map[string]httpkit.RateLimitConfig{
		"google": {QPS: 100, Concurrency: 1},
	}, nil)
	t.Cleanup(rl.Close)

	mustAcquire(t, rl, "google")

	// Permits remain, but the single concurrency slot is held.
	wantBlocked(t, rl, "google")

	rl.Release("google")
	mustAcquire(t, rl, "google")
}

func TestRateLimiterQueueDepth(t *testing.T) {
	collector := metrics.NewMemory()
	rl := httpkit.NewRateLimiter(map[string]httpkit.RateLimitConfig{
		"google": {QPS: 100, Concurrency: 1},
	}, collector)
	t.Cleanup(rl.Close)

	mustAcquire(t, rl, "google")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- rl.Acquire(ctx, "google")
	}()

	time.Sleep(50 * time.Millisecond)
	if got := rl.QueueDepth("google"); got != 1 {
		t.Errorf("QueueDepth = %d, want 1 while a caller waits", got)
	}
	labels := map[string]string{"provider": "google"}
	if got := collector.Gauge(metrics.RateLimiterQueueDepth, labels); got != 1 {
		t.Errorf("queue depth gauge = %v, want 1", got)
	}

	rl.Release("google")
	if err := <-done; err != nil {
		t.Fatalf("waiting Acquire error = %v", err)
	}
	if got := rl.QueueDepth("google"); got != 0 {
		t.Errorf("QueueDepth = %d, want 0 after admission", got)
	}
}

func TestRateLimiterDefaultsForUnknownProvider(t *testing.T) {
	rl := httpkit.NewRateLimiter(nil, nil)
	t.Cleanup(rl.Close)

	// DefaultRateLimit seeds two immediate permits.
	mustAcquire(t, rl, "anything")
	mustAcquire(t, rl, "anything")
}

func TestRateLimiterCloseStopsRefill(t *testing.T) {
	rl := httpkit.NewRateLimiter(map[string]httpkit.RateLimitConfig{
		"github": {QPS: 5, Concurrency: 10},
	}, nil)

	for i := 0; i < 5; i++ {
		mustAcquire(t, rl, "github")
	}
	rl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1300*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx, "github"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire after Close error = %v, want DeadlineExceeded", err)
	}
}
