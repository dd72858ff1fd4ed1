package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/locker"
	"github.com/gobeaver/ingest/logkit"
)

// Overall health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Health is a point-in-time snapshot of the SDK's dependencies.
type Health struct {
	// Status is healthy, or degraded when any dependency is down or any
	// circuit breaker is open.
	Status string `json:"status"`

	// TokenStore reports token persistence reachability.
	TokenStore BackendHealth `json:"tokenStore"`

	// DistributedLocks reports the refresh lock service.
	DistributedLocks locker.Health `json:"distributedLocks"`

	// CircuitBreakers maps provider to breaker state, for providers
	// that have seen traffic.
	CircuitBreakers map[string]string `json:"circuitBreakers,omitempty"`

	// PendingAuthorizations counts started but uncompleted flows. -1
	// when the state store could not be read.
	PendingAuthorizations int `json:"pendingAuthorizations"`

	// Providers lists the configured provider names.
	Providers []string `json:"providers"`
}

// BackendHealth reports one dependency's reachability.
type BackendHealth struct {
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health probes token storage, the lock service, the pending
// authorization count, and collects circuit breaker states.
func (s *SDK) Health(ctx context.Context) *Health {
	h := &Health{
		Status:          StatusHealthy,
		CircuitBreakers: s.http.Breakers().States(),
		Providers:       s.auth.Providers(),
	}
	sort.Strings(h.Providers)

	h.TokenStore = BackendHealth{Backend: s.tokens.BackendName(), Healthy: true}
	if err := s.tokens.Ping(ctx); err != nil {
		h.TokenStore.Healthy = false
		h.TokenStore.Error = err.Error()
		h.Status = StatusDegraded
	}

	h.DistributedLocks = s.locks.Health(ctx)
	if !h.DistributedLocks.Healthy {
		h.Status = StatusDegraded
	}

	n, err := s.auth.PendingAuthorizations(ctx)
	if err != nil {
		logkit.Warn("state store unreadable", "error", err)
		n = -1
		h.Status = StatusDegraded
	}
	h.PendingAuthorizations = n

	for _, state := range h.CircuitBreakers {
		if state == httpkit.StateOpen {
			h.Status = StatusDegraded
			break
		}
	}
	return h
}

// HealthHandler serves the health surface: /health returns the full
// snapshot as JSON, /livez answers as long as the process runs, and
// /readyz gates on overall status.
func (s *SDK) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Health(r.Context())); err != nil {
			logkit.Error("encode health response", "error", err)
		}
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.Health(r.Context()).Status != StatusHealthy {
			http.Error(w, StatusDegraded, http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready\n"))
	})
	return mux
}
