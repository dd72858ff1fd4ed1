package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingest"

var helpText = map[string]string{
	HTTPRequestsTotal:      "HTTP requests issued through the governed client.",
	HTTPRequestDuration:    "Wall clock duration of governed HTTP requests.",
	TokenRefreshTotal:      "Token refresh attempts by outcome.",
	TokenRefreshDuration:   "Wall clock duration of token refreshes.",
	TokenRefreshDedupTotal: "Refresh calls coalesced into another caller's result.",
	RateLimiterQueueDepth:  "Requests currently waiting on a provider rate limiter.",
	CircuitBreakerState:    "Circuit breaker state per provider (0 closed, 1 open).",
	ETagCacheEventsTotal:   "Conditional request cache hits, misses, and stores.",
}

// Prometheus is a Collector backed by a prometheus.Registry. Vectors are
// created on first use under the ingest namespace, so the first observation
// of a metric name fixes its label set.
type Prometheus struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus returns a collector with its own private registry.
func NewPrometheus() *Prometheus {
	return NewPrometheusWith(prometheus.NewRegistry())
}

// NewPrometheusWith returns a collector registering into reg.
func NewPrometheusWith(reg *prometheus.Registry) *Prometheus {
	return &Prometheus{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler exposes the registry in Prometheus text format, mountable at
// /metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// CounterInc adds one to the counter series.
func (p *Prometheus) CounterInc(name string, labels map[string]string) {
	p.CounterAdd(name, labels, 1)
}

// CounterAdd adds v to the counter series.
func (p *Prometheus) CounterAdd(name string, labels map[string]string, v float64) {
	p.counterVec(name, labels).With(labels).Add(v)
}

// GaugeSet sets the gauge series to v.
func (p *Prometheus) GaugeSet(name string, labels map[string]string, v float64) {
	p.gaugeVec(name, labels).With(labels).Set(v)
}

// Observe records v into the histogram series.
func (p *Prometheus) Observe(name string, labels map[string]string, v float64) {
	p.histogramVec(name, labels).With(labels).Observe(v)
}

func (p *Prometheus) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vec, ok := p.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help(name),
	}, labelNames(labels))
	p.reg.MustRegister(vec)
	p.counters[name] = vec
	return vec
}

func (p *Prometheus) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vec, ok := p.gauges[name]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help(name),
	}, labelNames(labels))
	p.reg.MustRegister(vec)
	p.gauges[name] = vec
	return vec
}

func (p *Prometheus) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if vec, ok := p.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help(name),
		Buckets:   prometheus.DefBuckets,
	}, labelNames(labels))
	p.reg.MustRegister(vec)
	p.histograms[name] = vec
	return vec
}

func help(name string) string {
	if h, ok := helpText[name]; ok {
		return h
	}
	return "Recorded by the ingest SDK."
}
