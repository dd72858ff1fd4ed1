package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gobeaver/ingest/config"
	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/krypto"
	"github.com/gobeaver/ingest/locker"
	"github.com/gobeaver/ingest/logkit"
	"github.com/gobeaver/ingest/oauth"
	"github.com/gobeaver/ingest/tokenstore"
)

// Defaults for the metrics exposition server.
const (
	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

// builtinProviders are the provider names the SDK ships adapters for.
var builtinProviders = []string{"github", "google", "reddit", "twitter"}

// Config is the full SDK configuration. The zero value is not usable: at
// least one provider must be configured. Every other field falls back to
// a sensible default.
type Config struct {
	// TokenStore selects and configures token persistence.
	TokenStore tokenstore.Config `json:"tokenStore"`

	// PreRefreshMarginMinutes is how long before expiry tokens are
	// refreshed. 1 to 60; default 5.
	PreRefreshMarginMinutes int `json:"preRefreshMarginMinutes"`

	// Locks configures the distributed refresh lock. An empty URL runs
	// local-only, where in-process deduplication still applies.
	Locks locker.Config `json:"locks"`

	// HTTP configures the governed client shared by all connectors.
	// MaxRetries -1 disables retries; 0 selects the default of 3.
	HTTP httpkit.Config `json:"http"`

	// RateLimits sets per-provider admission rates, merged over any
	// limits in HTTP.RateLimits. Providers absent from both get the
	// built-in default.
	RateLimits map[string]httpkit.RateLimitConfig `json:"rateLimits"`

	// Providers declares the OAuth client registrations. At least one is
	// required; names matching a built-in adapter wire that adapter.
	Providers map[string]oauth.ProviderConfig `json:"providers"`

	// Metrics controls the Prometheus exposition server.
	Metrics MetricsConfig `json:"metrics"`

	// Logging configures the process-wide structured logger.
	Logging logkit.Config `json:"logging"`
}

// MetricsConfig controls metrics collection and exposition.
type MetricsConfig struct {
	// Enabled switches from the no-op collector to Prometheus and starts
	// the exposition server.
	Enabled bool `json:"enabled"`

	// Port for the exposition server. 1024 to 65535; default 9090.
	Port int `json:"port"`

	// Path of the metrics endpoint. Default "/metrics".
	Path string `json:"path"`
}

// Validate checks the configuration against its documented constraints,
// returning a *ConfigError naming the offending field.
func (c *Config) Validate() error {
	switch c.TokenStore.Backend {
	case "", "memory", "durable-kv", "redis", "relational", "sql":
	default:
		return &ConfigError{Field: "tokenStore.backend", Reason: `must be one of "memory", "durable-kv", "relational"`}
	}
	if c.TokenStore.Backend != "" && c.TokenStore.Backend != "memory" && c.TokenStore.URL == "" {
		return &ConfigError{Field: "tokenStore.url", Reason: "required for durable backends"}
	}
	if c.TokenStore.EncryptionKey != "" {
		if _, err := krypto.ParseKeyHex(c.TokenStore.EncryptionKey); err != nil {
			return &ConfigError{Field: "tokenStore.encryptionKey", Reason: "must be 64 hex characters (AES-256)"}
		}
	}
	if v := c.PreRefreshMarginMinutes; v != 0 && (v < 1 || v > 60) {
		return &ConfigError{Field: "preRefreshMarginMinutes", Reason: "must be between 1 and 60"}
	}
	if v := c.TokenStore.ExpiredTokenBufferMinutes; v != 0 && (v < 1 || v > 60) {
		return &ConfigError{Field: "tokenStore.expiredTokenBufferMinutes", Reason: "must be between 1 and 60"}
	}
	if v := c.HTTP.Retry.MaxRetries; v < -1 || v > 10 {
		return &ConfigError{Field: "http.retry.maxRetries", Reason: "must be between 0 and 10"}
	}
	for name, rl := range c.RateLimits {
		if rl.QPS < 0 {
			return &ConfigError{Field: "rateLimits." + name + ".qps", Reason: "must be positive"}
		}
		if rl.Concurrency < 0 {
			return &ConfigError{Field: "rateLimits." + name + ".concurrency", Reason: "must be positive"}
		}
	}
	if len(c.Providers) == 0 {
		return &ConfigError{Field: "providers", Reason: "at least one provider is required"}
	}
	for name, pc := range c.Providers {
		if pc.ClientID == "" {
			return &ConfigError{Field: "providers." + name + ".clientId", Reason: "required"}
		}
		if pc.RedirectURI == "" {
			return &ConfigError{Field: "providers." + name + ".redirectUri", Reason: "required"}
		}
	}
	if c.Metrics.Enabled {
		if p := c.Metrics.Port; p != 0 && (p < 1024 || p > 65535) {
			return &ConfigError{Field: "metrics.port", Reason: "must be between 1024 and 65535"}
		}
		if path := c.Metrics.Path; path != "" && !strings.HasPrefix(path, "/") {
			return &ConfigError{Field: "metrics.path", Reason: `must start with "/"`}
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return &ConfigError{Field: "logging.level", Reason: `must be one of "debug", "info", "warn", "error"`}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "pretty":
	default:
		return &ConfigError{Field: "logging.format", Reason: `must be "json" or "pretty"`}
	}
	return nil
}

// preRefreshMargin returns the configured margin as a duration; zero
// defers to the connector default.
func (c *Config) preRefreshMargin() time.Duration {
	return time.Duration(c.PreRefreshMarginMinutes) * time.Minute
}

// envConfig is the flat environment-variable view of Config, bound by the
// config loader under the INGEST_ prefix.
type envConfig struct {
	TokenStoreBackend         string        `env:"TOKEN_STORE_BACKEND,default:memory"`
	TokenStoreURL             string        `env:"TOKEN_STORE_URL,redact"`
	EncryptionKey             string        `env:"ENCRYPTION_KEY,redact"`
	SQLDriver                 string        `env:"SQL_DRIVER"`
	PreRefreshMarginMinutes   int           `env:"PRE_REFRESH_MARGIN_MINUTES,default:5"`
	ExpiredTokenBufferMinutes int           `env:"EXPIRED_TOKEN_BUFFER_MINUTES,default:5"`
	DefaultTTLDays            int           `env:"DEFAULT_TTL_DAYS,default:30"`
	LockURL                   string        `env:"LOCK_URL,redact"`
	HTTPTimeout               time.Duration `env:"HTTP_TIMEOUT,default:30s"`
	HTTPProxyURL              string        `env:"HTTP_PROXY_URL"`
	HTTPUserAgent             string        `env:"HTTP_USER_AGENT"`
	HTTPDisableKeepAlives     bool          `env:"HTTP_DISABLE_KEEP_ALIVES"`
	HTTPMaxRetries            int           `env:"HTTP_MAX_RETRIES,default:3"`
	HTTPRetryBaseDelay        time.Duration `env:"HTTP_RETRY_BASE_DELAY,default:1s"`
	HTTPRetryMaxDelay         time.Duration `env:"HTTP_RETRY_MAX_DELAY,default:30s"`
	HTTPRetryableStatusCodes  []int         `env:"HTTP_RETRYABLE_STATUS_CODES"`
	BreakerFailureThreshold   int           `env:"BREAKER_FAILURE_THRESHOLD,default:5"`
	BreakerResetTimeout       time.Duration `env:"BREAKER_RESET_TIMEOUT,default:60s"`
	Providers                 string        `env:"PROVIDERS"`
	RateLimits                string        `env:"RATE_LIMITS"`
	MetricsEnabled            bool          `env:"METRICS_ENABLED"`
	MetricsPort               int           `env:"METRICS_PORT,default:9090"`
	MetricsPath               string        `env:"METRICS_PATH,default:/metrics"`
	LogLevel                  string        `env:"LOG_LEVEL,default:info"`
	LogFormat                 string        `env:"LOG_FORMAT,default:json"`
}

// FromEnv builds a Config from environment variables under the INGEST_
// prefix. The provider and rate-limit maps are read from INGEST_PROVIDERS
// and INGEST_RATE_LIMITS as JSON; individual provider fields may also be
// set through INGEST_PROVIDER_<NAME>_* variables, which override the JSON
// map and are how a single provider is configured without any JSON at all.
func FromEnv() (*Config, error) {
	var env envConfig
	if err := config.Load(&env); err != nil {
		return nil, err
	}

	cfg := &Config{
		TokenStore: tokenstore.Config{
			Backend:                   env.TokenStoreBackend,
			URL:                       env.TokenStoreURL,
			EncryptionKey:             env.EncryptionKey,
			SQLDriver:                 env.SQLDriver,
			ExpiredTokenBufferMinutes: env.ExpiredTokenBufferMinutes,
			DefaultTTLDays:            env.DefaultTTLDays,
		},
		PreRefreshMarginMinutes: env.PreRefreshMarginMinutes,
		Locks:                   locker.Config{URL: env.LockURL},
		HTTP: httpkit.Config{
			Timeout:           env.HTTPTimeout,
			DisableKeepAlives: env.HTTPDisableKeepAlives,
			ProxyURL:          env.HTTPProxyURL,
			UserAgent:         env.HTTPUserAgent,
			Retry: httpkit.RetryConfig{
				MaxRetries:           env.HTTPMaxRetries,
				BaseDelay:            env.HTTPRetryBaseDelay,
				MaxDelay:             env.HTTPRetryMaxDelay,
				RetryableStatusCodes: env.HTTPRetryableStatusCodes,
			},
			Breaker: httpkit.BreakerConfig{
				FailureThreshold: env.BreakerFailureThreshold,
				ResetTimeout:     env.BreakerResetTimeout,
			},
		},
		Metrics: MetricsConfig{Enabled: env.MetricsEnabled, Port: env.MetricsPort, Path: env.MetricsPath},
		Logging: logkit.Config{Level: env.LogLevel, Format: env.LogFormat},
	}

	// An explicit INGEST_HTTP_MAX_RETRIES=0 means no retries. The governed
	// client reads zero as "use the default", so translate.
	if env.HTTPMaxRetries == 0 {
		cfg.HTTP.Retry.MaxRetries = -1
	}

	if env.RateLimits != "" {
		if err := json.Unmarshal([]byte(env.RateLimits), &cfg.RateLimits); err != nil {
			return nil, &ConfigError{Field: "rateLimits", Reason: "INGEST_RATE_LIMITS is not valid JSON: " + err.Error()}
		}
	}

	providers := map[string]oauth.ProviderConfig{}
	if env.Providers != "" {
		if err := json.Unmarshal([]byte(env.Providers), &providers); err != nil {
			return nil, &ConfigError{Field: "providers", Reason: "INGEST_PROVIDERS is not valid JSON: " + err.Error()}
		}
	}

	names := make(map[string]bool, len(providers)+len(builtinProviders))
	for _, name := range builtinProviders {
		names[name] = true
	}
	for name := range providers {
		names[name] = true
	}
	for name := range names {
		pc := providers[name]
		if err := config.Load(&pc, config.LoadOptions{Prefix: providerEnvPrefix(name)}); err != nil {
			return nil, err
		}
		if pc.ClientID == "" {
			if _, listed := providers[name]; !listed {
				continue
			}
		}
		providers[name] = pc
	}
	cfg.Providers = providers

	return cfg, nil
}

// providerEnvPrefix returns the per-provider variable prefix, e.g.
// INGEST_PROVIDER_GITHUB_ for "github".
func providerEnvPrefix(name string) string {
	return "INGEST_PROVIDER_" + strings.ReplaceAll(strings.ToUpper(name), "-", "_") + "_"
}
