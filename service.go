package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gobeaver/ingest/connector"
	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/locker"
	"github.com/gobeaver/ingest/logkit"
	"github.com/gobeaver/ingest/metrics"
	"github.com/gobeaver/ingest/normalize"
	"github.com/gobeaver/ingest/oauth"
	"github.com/gobeaver/ingest/tokenstore"
)

// SDK is one assembled instance of the ingestion pipeline: token store,
// refresh lock, governed HTTP client, OAuth core, and the connectors
// built on them. Safe for concurrent use.
type SDK struct {
	cfg       Config
	collector metrics.Collector
	tokens    *tokenstore.Store
	locks     *locker.Locker
	http      *httpkit.Client
	auth      *oauth.Service

	// states is non-nil only when the SDK opened a shared state store
	// itself and must close it; the oauth service closes the one it owns.
	states oauth.StateStore

	mu         sync.RWMutex
	connectors map[string]connector.Connector

	metricsSrv *http.Server
}

// New validates the config and assembles an SDK: storage, locks, the
// governed HTTP client, the OAuth core (resolving provider endpoints,
// including discovery), built-in adapters for every configured provider,
// and the metrics server when enabled. Callers own the instance and must
// Close it.
func New(cfg Config) (*SDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logkit.Init(cfg.Logging)

	s := &SDK{
		cfg:        cfg,
		collector:  metrics.NewNoop(),
		connectors: make(map[string]connector.Connector),
	}
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		s.collector = prom
	}

	// Construction-time dials and discovery use a background context;
	// per-operation contexts govern everything after.
	ctx := context.Background()

	var err error
	if s.tokens, err = tokenstore.New(ctx, cfg.TokenStore); err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	if s.locks, err = locker.New(ctx, cfg.Locks); err != nil {
		s.Close()
		return nil, fmt.Errorf("lock service: %w", err)
	}

	httpCfg := cfg.HTTP
	if len(cfg.RateLimits) > 0 {
		merged := make(map[string]httpkit.RateLimitConfig, len(httpCfg.RateLimits)+len(cfg.RateLimits))
		for name, rl := range httpCfg.RateLimits {
			merged[name] = rl
		}
		for name, rl := range cfg.RateLimits {
			merged[name] = rl
		}
		httpCfg.RateLimits = merged
	}
	httpCfg.Collector = s.collector
	if s.http, err = httpkit.New(httpCfg); err != nil {
		s.Close()
		return nil, fmt.Errorf("http client: %w", err)
	}

	// With a lock backend configured, pending authorizations share it, so
	// a callback can land on a different instance than started the flow.
	if cfg.Locks.URL != "" {
		if s.states, err = oauth.NewRedisStateStore(ctx, cfg.Locks.URL); err != nil {
			s.Close()
			return nil, fmt.Errorf("state store: %w", err)
		}
	}

	if s.auth, err = oauth.New(ctx, oauth.Config{Providers: cfg.Providers, StateStore: s.states}); err != nil {
		s.Close()
		return nil, err
	}

	deps := connector.Deps{
		Auth:             s.auth,
		Tokens:           s.tokens,
		HTTP:             s.http,
		Locks:            s.locks,
		Collector:        s.collector,
		PreRefreshMargin: cfg.preRefreshMargin(),
	}
	for name := range cfg.Providers {
		switch name {
		case "github":
			s.RegisterConnector(connector.NewGitHub(deps))
		case "google":
			s.RegisterConnector(connector.NewGoogle(deps))
		case "reddit":
			s.RegisterConnector(connector.NewReddit(deps))
		case "twitter":
			s.RegisterConnector(connector.NewTwitter(deps))
		}
	}
	// Feeds need no OAuth registration.
	s.RegisterConnector(connector.NewRSS(deps))

	if cfg.Metrics.Enabled {
		s.startMetricsServer(prom)
	}

	logkit.Info("ingest sdk ready",
		"providers", s.auth.Providers(),
		"token_store", s.tokens.BackendName(),
		"distributed_locks", s.locks.Distributed(),
	)
	return s, nil
}

// RegisterConnector installs a connector under its Name, replacing any
// existing one. This is the extension point for providers the SDK has no
// built-in adapter for.
func (s *SDK) RegisterConnector(c connector.Connector) {
	s.mu.Lock()
	s.connectors[c.Name()] = c
	s.mu.Unlock()
}

// Connector returns the connector registered for a provider.
func (s *SDK) Connector(provider string) (connector.Connector, error) {
	s.mu.RLock()
	c, ok := s.connectors[provider]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, ErrProviderNotConfigured)
	}
	return c, nil
}

// Connect starts the authorization flow for (provider, user) and returns
// the URL to redirect the user to.
func (s *SDK) Connect(ctx context.Context, provider, userID string, opts *oauth.AuthURLOptions) (string, error) {
	c, err := s.Connector(provider)
	if err != nil {
		return "", err
	}
	return c.Connect(ctx, userID, opts)
}

// HandleCallback completes the authorization flow from the provider's
// redirect parameters and persists the resulting tokens.
func (s *SDK) HandleCallback(ctx context.Context, provider, userID string, params map[string]string) (*oauth.TokenSet, error) {
	c, err := s.Connector(provider)
	if err != nil {
		return nil, err
	}
	return c.HandleCallback(ctx, userID, params)
}

// Fetch retrieves the user's data from a provider as normalized items,
// refreshing credentials beforehand when they are about to expire.
func (s *SDK) Fetch(ctx context.Context, provider, userID string, params map[string]string) ([]*normalize.Item, error) {
	c, err := s.Connector(provider)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, userID, params)
}

// Disconnect revokes the user's tokens with the provider on a best-effort
// basis and deletes them from storage.
func (s *SDK) Disconnect(ctx context.Context, provider, userID string) error {
	c, err := s.Connector(provider)
	if err != nil {
		return err
	}
	return c.Disconnect(ctx, userID)
}

// Close tears the SDK down: metrics server, HTTP client, OAuth core,
// shared state store, locks, and token store. Nil components from a
// partial construction are skipped.
func (s *SDK) Close() error {
	var errs []error
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.metricsSrv.Shutdown(ctx))
		cancel()
	}
	if s.http != nil {
		errs = append(errs, s.http.Close())
	}
	if s.auth != nil {
		errs = append(errs, s.auth.Close())
	}
	if s.states != nil {
		errs = append(errs, s.states.Close())
	}
	if s.locks != nil {
		errs = append(errs, s.locks.Close())
	}
	if s.tokens != nil {
		errs = append(errs, s.tokens.Close())
	}
	return errors.Join(errs...)
}

// startMetricsServer serves the Prometheus endpoint and the health
// surface on the configured port.
func (s *SDK) startMetricsServer(prom *metrics.Prometheus) {
	port := s.cfg.Metrics.Port
	if port == 0 {
		port = DefaultMetricsPort
	}
	path := s.cfg.Metrics.Path
	if path == "" {
		path = DefaultMetricsPath
	}

	mux := http.NewServeMux()
	mux.Handle(path, prom.Handler())
	health := s.HealthHandler()
	mux.Handle("/health", health)
	mux.Handle("/livez", health)
	mux.Handle("/readyz", health)

	s.metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		logkit.Info("metrics server listening", "addr", s.metricsSrv.Addr, "path", path)
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logkit.Error("metrics server failed", "error", err)
		}
	}()
}

var (
	defaultSDK  *SDK
	defaultOnce sync.Once
	defaultErr  error
)

// Init builds the package-level SDK exactly once. With no arguments the
// configuration is loaded from INGEST_-prefixed environment variables;
// otherwise the first Config is used. Later calls return the first
// outcome until Reset.
func Init(configs ...Config) error {
	defaultOnce.Do(func() {
		cfg := Config{}
		if len(configs) > 0 {
			cfg = configs[0]
		} else {
			loaded, err := FromEnv()
			if err != nil {
				defaultErr = err
				return
			}
			cfg = *loaded
		}
		defaultSDK, defaultErr = New(cfg)
	})
	return defaultErr
}

// MustInit is Init that panics on error, for program start-up paths.
func MustInit(configs ...Config) {
	if err := Init(configs...); err != nil {
		panic(err)
	}
}

// Default returns the package-level SDK, or nil before Init.
func Default() *SDK {
	return defaultSDK
}

// Reset closes the package-level SDK and clears it so Init can run again.
// Intended for tests.
func Reset() {
	if defaultSDK != nil {
		defaultSDK.Close()
	}
	defaultSDK = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}

// Connect calls Connect on the package-level SDK.
func Connect(ctx context.Context, provider, userID string, opts *oauth.AuthURLOptions) (string, error) {
	if defaultSDK == nil {
		return "", ErrNotInitialized
	}
	return defaultSDK.Connect(ctx, provider, userID, opts)
}

// HandleCallback calls HandleCallback on the package-level SDK.
func HandleCallback(ctx context.Context, provider, userID string, params map[string]string) (*oauth.TokenSet, error) {
	if defaultSDK == nil {
		return nil, ErrNotInitialized
	}
	return defaultSDK.HandleCallback(ctx, provider, userID, params)
}

// Fetch calls Fetch on the package-level SDK.
func Fetch(ctx context.Context, provider, userID string, params map[string]string) ([]*normalize.Item, error) {
	if defaultSDK == nil {
		return nil, ErrNotInitialized
	}
	return defaultSDK.Fetch(ctx, provider, userID, params)
}

// Disconnect calls Disconnect on the package-level SDK.
func Disconnect(ctx context.Context, provider, userID string) error {
	if defaultSDK == nil {
		return ErrNotInitialized
	}
	return defaultSDK.Disconnect(ctx, provider, userID)
}

// RegisterConnector installs a connector on the package-level SDK.
func RegisterConnector(c connector.Connector) error {
	if defaultSDK == nil {
		return ErrNotInitialized
	}
	defaultSDK.RegisterConnector(c)
	return nil
}

// CheckHealth reports the package-level SDK's health.
func CheckHealth(ctx context.Context) (*Health, error) {
	if defaultSDK == nil {
		return nil, ErrNotInitialized
	}
	return defaultSDK.Health(ctx), nil
}
