package httpkit

import (
	"sync"
	"time"

	"github.com/gobeaver/ingest/logkit"
	"github.com/gobeaver/ingest/metrics"
)

// Circuit breaker states as reported by State and the state gauge.
const (
	StateClosed = "closed"
	StateOpen   = "open"
)

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default 5.
	FailureThreshold int `env:"FAILURE_THRESHOLD,default:5" json:"failureThreshold"`

	// ResetTimeout is how long an open circuit blocks before letting a
	// probe request through. Default 60s.
	ResetTimeout time.Duration `json:"resetTimeout"`
}

// breaker tracks consecutive failures for one provider.
type breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// BreakerSet manages one circuit breaker per provider, created on first
// use.
type BreakerSet struct {
	mu        sync.RWMutex
	breakers  map[string]*breaker
	cfg       BreakerConfig
	collector metrics.Collector
}

// NewBreakerSet creates a breaker set with the given thresholds.
func NewBreakerSet(cfg BreakerConfig, collector metrics.Collector) *BreakerSet {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if collector == nil {
		collector = metrics.NewNoop()
	}

	return &BreakerSet{
		breakers:  make(map[string]*breaker),
		cfg:       cfg,
		collector: collector,
	}
}

func (s *BreakerSet) get(provider string) *breaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[provider]; ok {
		return b
	}
	b = &breaker{}
	s.breakers[provider] = b
	return b
}

// CanExecute reports whether a request for the provider may proceed. An
// open circuit lets a single-file stream of probes through once the reset
// timeout has elapsed; the failure counter is untouched until a probe
// outcome is recorded, so a failed probe re-opens the gate immediately.
func (s *BreakerSet) CanExecute(provider string) bool {
	b := s.get(provider)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < s.cfg.FailureThreshold {
		return true
	}
	return time.Since(b.lastFailure) >= s.cfg.ResetTimeout
}

// RecordSuccess resets the provider's failure count, closing the circuit.
func (s *BreakerSet) RecordSuccess(provider string) {
	b := s.get(provider)

	b.mu.Lock()
	wasOpen := b.failures >= s.cfg.FailureThreshold
	b.failures = 0
	b.mu.Unlock()

	if wasOpen {
		logkit.Info("circuit breaker closed", "provider", provider)
	}
	s.collector.GaugeSet(metrics.CircuitBreakerState, map[string]string{"provider": provider}, 0)
}

// RecordFailure counts a failure; hitting the threshold opens the circuit.
func (s *BreakerSet) RecordFailure(provider string) {
	b := s.get(provider)

	b.mu.Lock()
	b.failures++
	b.lastFailure = time.Now()
	opened := b.failures == s.cfg.FailureThreshold
	open := b.failures >= s.cfg.FailureThreshold
	b.mu.Unlock()

	if opened {
		logkit.Warn("circuit breaker opened",
			"provider", provider,
			"failures", s.cfg.FailureThreshold,
			"reset_timeout", s.cfg.ResetTimeout,
		)
	}
	if open {
		s.collector.GaugeSet(metrics.CircuitBreakerState, map[string]string{"provider": provider}, 1)
	}
}

// State returns the provider's current state string.
func (s *BreakerSet) State(provider string) string {
	b := s.get(provider)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures >= s.cfg.FailureThreshold && time.Since(b.lastFailure) < s.cfg.ResetTimeout {
		return StateOpen
	}
	return StateClosed
}

// States returns the state of every breaker created so far.
func (s *BreakerSet) States() map[string]string {
	s.mu.RLock()
	providers := make([]string, 0, len(s.breakers))
	for provider := range s.breakers {
		providers = append(providers, provider)
	}
	s.mu.RUnlock()

	states := make(map[string]string, len(providers))
	for _, provider := range providers {
		states[provider] = s.State(provider)
	}
	return states
}

// Reset clears the breaker for a provider.
func (s *BreakerSet) Reset(provider string) {
	b := s.get(provider)

	b.mu.Lock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()
}
