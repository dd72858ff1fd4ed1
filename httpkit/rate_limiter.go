package httpkit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobeaver/ingest/metrics"
)

// RateLimitConfig shapes the admission rate for one provider.
type RateLimitConfig struct {
	// QPS is the sustained admission rate. Values below 1 stretch the
	// release interval instead of releasing fractional permits.
	QPS float64 `json:"qps"`

	// Concurrency caps in-flight requests. Default 4.
	Concurrency int `json:"concurrency"`

	// Burst bounds how many unconsumed permits may accumulate.
	// Default: one release batch.
	Burst int `json:"burst,omitempty"`
}

// DefaultRateLimit applies to providers with no configured limit.
var DefaultRateLimit = RateLimitConfig{QPS: 2, Concurrency: 4}

// RateLimiter queues requests per provider: a release loop hands out
// permits on a fixed cadence and a semaphore caps in-flight work.
// Callers block in Acquire until both are available, FIFO by
// submission, and must Release when the request finishes.
type RateLimiter struct {
	mu        sync.RWMutex
	limiters  map[string]*providerLimiter
	configs   map[string]RateLimitConfig
	collector metrics.Collector
	stop      chan struct{}
	stopOnce  sync.Once
}

// providerLimiter is the admission state for a single provider.
type providerLimiter struct {
	permits chan struct{}
	slots   chan struct{}
	waiting atomic.Int64
}

// NewRateLimiter builds a limiter from per-provider configs. Providers
// absent from the map get DefaultRateLimit. A nil collector disables
// metrics.
func NewRateLimiter(configs map[string]RateLimitConfig, collector metrics.Collector) *RateLimiter {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	return &RateLimiter{
		limiters:  make(map[string]*providerLimiter),
		configs:   configs,
		collector: collector,
		stop:      make(chan struct{}),
	}
}

// calibrate translates a QPS target into a release interval and batch
// size. Sub-1 rates release a single permit on a stretched interval.
func calibrate(qps float64) (time.Duration, int) {
	if qps >= 1 {
		return time.Second, int(qps)
	}
	return time.Duration(math.Floor(1000/qps)) * time.Millisecond, 1
}

// get returns the limiter for a provider, creating it and starting its
// release loop on first use.
func (rl *RateLimiter) get(provider string) *providerLimiter {
	rl.mu.RLock()
	pl, ok := rl.limiters[provider]
	rl.mu.RUnlock()
	if ok {
		return pl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if pl, ok = rl.limiters[provider]; ok {
		return pl
	}

	cfg, ok := rl.configs[provider]
	if !ok {
		cfg = DefaultRateLimit
	}
	if cfg.QPS <= 0 {
		cfg.QPS = DefaultRateLimit.QPS
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultRateLimit.Concurrency
	}

	interval, batch := calibrate(cfg.QPS)
	burst := cfg.Burst
	if burst <= 0 {
		burst = batch
	}

	pl = &providerLimiter{
		permits: make(chan struct{}, burst),
		slots:   make(chan struct{}, cfg.Concurrency),
	}

	// Start with one batch so the first requests don't stall, and a
	// full complement of concurrency slots.
	for i := 0; i < batch && i < burst; i++ {
		pl.permits <- struct{}{}
	}
	for i := 0; i < cfg.Concurrency; i++ {
		pl.slots <- struct{}{}
	}

	rl.limiters[provider] = pl
	go rl.releaseLoop(pl, interval, batch)

	return pl
}

// releaseLoop tops up permits each interval; extras beyond the burst
// capacity are dropped.
func (rl *RateLimiter) releaseLoop(pl *providerLimiter, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			for i := 0; i < batch; i++ {
				select {
				case pl.permits <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Acquire blocks until the provider grants a rate permit and a
// concurrency slot, or ctx is done.
func (rl *RateLimiter) Acquire(ctx context.Context, provider string) error {
	pl := rl.get(provider)

	labels := map[string]string{"provider": provider}
	rl.collector.GaugeSet(metrics.RateLimiterQueueDepth, labels, float64(pl.waiting.Add(1)))
	defer func() {
		rl.collector.GaugeSet(metrics.RateLimiterQueueDepth, labels, float64(pl.waiting.Add(-1)))
	}()

	select {
	case <-pl.permits:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-pl.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the caller's concurrency slot. Calls without a
// matching Acquire are ignored.
func (rl *RateLimiter) Release(provider string) {
	rl.mu.RLock()
	pl, ok := rl.limiters[provider]
	rl.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case pl.slots <- struct{}{}:
	default:
	}
}

// QueueDepth reports how many callers are waiting on the provider.
func (rl *RateLimiter) QueueDepth(provider string) int {
	rl.mu.RLock()
	pl, ok := rl.limiters[provider]
	rl.mu.RUnlock()
	if !ok {
		return 0
	}
	return int(pl.waiting.Load())
}

// Close stops all release loops. Pending Acquire calls still complete
// once permits or context allow; no new permits are released.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
