package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gobeaver/ingest/metrics"
)

var (
	_ metrics.Collector = metrics.NewNoop()
	_ metrics.Collector = metrics.NewMemory()
	_ metrics.Collector = metrics.NewPrometheus()
)

func TestMemory_Counters(t *testing.T) {
	m := metrics.NewMemory()

	// The same label set must land on the same series regardless of how
	// the caller's map happened to be built.
	m.CounterInc(metrics.HTTPRequestsTotal, map[string]string{"provider": "github", "method": "GET"})
	m.CounterInc(metrics.HTTPRequestsTotal, map[string]string{"method": "GET", "provider": "github"})
	m.CounterAdd(metrics.HTTPRequestsTotal, map[string]string{"provider": "github", "method": "GET"}, 2.5)

	got := m.Counter(metrics.HTTPRequestsTotal, map[string]string{"provider": "github", "method": "GET"})
	if got != 4.5 {
		t.Errorf("Counter() = %v, want 4.5", got)
	}

	if got := m.Counter(metrics.HTTPRequestsTotal, map[string]string{"provider": "google", "method": "GET"}); got != 0 {
		t.Errorf("Counter() for other labels = %v, want 0", got)
	}
	if got := m.Counter("does_not_exist", nil); got != 0 {
		t.Errorf("Counter() for unknown series = %v, want 0", got)
	}
}

func TestMemory_Gauges(t *testing.T) {
	m := metrics.NewMemory()
	labels := map[string]string{"provider": "reddit"}

	m.GaugeSet(metrics.RateLimiterQueueDepth, labels, 7)
	m.GaugeSet(metrics.RateLimiterQueueDepth, labels, 3)

	if got := m.Gauge(metrics.RateLimiterQueueDepth, labels); got != 3 {
		t.Errorf("Gauge() = %v, want 3", got)
	}
}

func TestMemory_Observations(t *testing.T) {
	m := metrics.NewMemory()
	labels := map[string]string{"provider": "github"}

	m.Observe(metrics.TokenRefreshDuration, labels, 0.1)
	m.Observe(metrics.TokenRefreshDuration, labels, 0.3)

	obs := m.Observations(metrics.TokenRefreshDuration, labels)
	if len(obs) != 2 || obs[0] != 0.1 || obs[1] != 0.3 {
		t.Fatalf("Observations() = %v, want [0.1 0.3]", obs)
	}

	// Mutating the returned slice must not touch the collector's copy.
	obs[0] = 99
	if got := m.Observations(metrics.TokenRefreshDuration, labels); got[0] != 0.1 {
		t.Errorf("Observations() after caller mutation = %v, want [0.1 0.3]", got)
	}

	if got := m.Observations(metrics.TokenRefreshDuration, map[string]string{"provider": "nope"}); len(got) != 0 {
		t.Errorf("Observations() for unknown series = %v, want empty", got)
	}
}

func TestMemory_Reset(t *testing.T) {
	m := metrics.NewMemory()
	labels := map[string]string{"provider": "github"}

	m.CounterInc(metrics.HTTPRequestsTotal, labels)
	m.GaugeSet(metrics.CircuitBreakerState, labels, 1)
	m.Observe(metrics.HTTPRequestDuration, labels, 0.2)
	m.Reset()

	if got := m.Counter(metrics.HTTPRequestsTotal, labels); got != 0 {
		t.Errorf("Counter() after Reset = %v, want 0", got)
	}
	if got := m.Gauge(metrics.CircuitBreakerState, labels); got != 0 {
		t.Errorf("Gauge() after Reset = %v, want 0", got)
	}
	if got := m.Observations(metrics.HTTPRequestDuration, labels); len(got) != 0 {
		t.Errorf("Observations() after Reset = %v, want empty", got)
	}
}

func TestNoop_Discards(t *testing.T) {
	n := metrics.NewNoop()
	n.CounterInc(metrics.HTTPRequestsTotal, nil)
	n.CounterAdd(metrics.HTTPRequestsTotal, map[string]string{"provider": "github"}, 2)
	n.GaugeSet(metrics.CircuitBreakerState, nil, 1)
	n.Observe(metrics.HTTPRequestDuration, nil, 0.5)
}

func TestPrometheus_Handler(t *testing.T) {
	p := metrics.NewPrometheus()

	labels := map[string]string{"provider": "github", "method": "GET", "status": "200"}
	p.CounterInc(metrics.HTTPRequestsTotal, labels)
	p.CounterInc(metrics.HTTPRequestsTotal, labels)
	p.GaugeSet(metrics.CircuitBreakerState, map[string]string{"provider": "github"}, 1)
	p.Observe(metrics.TokenRefreshDuration, map[string]string{"provider": "github"}, 0.25)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("handler status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"# HELP ingest_http_requests_total HTTP requests issued through the governed client.",
		`ingest_http_requests_total{method="GET",provider="github",status="200"} 2`,
		`ingest_circuit_breaker_state{provider="github"} 1`,
		`ingest_token_refresh_duration_seconds_count{provider="github"} 1`,
		`ingest_token_refresh_duration_seconds_sum{provider="github"} 0.25`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestPrometheus_UnknownNameGetsFallbackHelp(t *testing.T) {
	p := metrics.NewPrometheus()
	p.CounterInc("custom_events_total", nil)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "# HELP ingest_custom_events_total Recorded by the ingest SDK.") {
		t.Errorf("exposition missing fallback help:\n%s", body)
	}
	if !strings.Contains(body, "ingest_custom_events_total 1") {
		t.Errorf("exposition missing unlabeled series:\n%s", body)
	}
}

func TestPrometheus_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := metrics.NewPrometheusWith(reg)

	p.CounterInc(metrics.ETagCacheEventsTotal, map[string]string{"provider": "github", "event": "hit"})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "ingest_etag_cache_events_total" {
			return
		}
	}
	t.Errorf("registry has no ingest_etag_cache_events_total family")
}
