// Package metrics defines the Collector interface the SDK reports
// operational counters through, with Prometheus, in-memory, and no-op
// implementations. The in-memory collector doubles as a test probe.
package metrics

import (
	"sort"
	"strings"
)

// Metric names recorded by the SDK. The first observation of a name fixes
// its label set.
const (
	HTTPRequestsTotal      = "http_requests_total"            // provider, method, status
	HTTPRequestDuration    = "http_request_duration_seconds"  // provider
	TokenRefreshTotal      = "token_refresh_total"            // provider, outcome
	TokenRefreshDuration   = "token_refresh_duration_seconds" // provider
	TokenRefreshDedupTotal = "token_refresh_dedup_total"      // provider, scope
	RateLimiterQueueDepth  = "rate_limiter_queue_depth"       // provider
	CircuitBreakerState    = "circuit_breaker_state"          // provider
	ETagCacheEventsTotal   = "etag_cache_events_total"        // provider, event
)

// Collector receives counter, gauge, and histogram observations.
// Implementations must be safe for concurrent use.
type Collector interface {
	CounterInc(name string, labels map[string]string)
	CounterAdd(name string, labels map[string]string, v float64)
	GaugeSet(name string, labels map[string]string, v float64)
	Observe(name string, labels map[string]string, v float64)
}

// Noop discards all observations.
type Noop struct{}

// NewNoop returns a collector that discards everything.
func NewNoop() Noop { return Noop{} }

func (Noop) CounterInc(string, map[string]string)          {}
func (Noop) CounterAdd(string, map[string]string, float64) {}
func (Noop) GaugeSet(string, map[string]string, float64)   {}
func (Noop) Observe(string, map[string]string, float64)    {}

// labelKey renders a label set in a canonical order so the same labels
// always map to the same series regardless of map iteration order.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
