// Package connector holds the provider integrations: a BaseConnector
// that owns the OAuth and token-refresh choreography (pre-refresh
// margin, local and distributed refresh deduplication), and the
// built-in adapters for github, google, reddit, twitter, and rss.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/locker"
	"github.com/gobeaver/ingest/logkit"
	"github.com/gobeaver/ingest/metrics"
	"github.com/gobeaver/ingest/oauth"
	"github.com/gobeaver/ingest/tokenstore"
)

const (
	// DefaultPreRefreshMargin refreshes tokens this long before expiry,
	// so requests never go out with a token about to lapse mid-flight.
	DefaultPreRefreshMargin = 5 * time.Minute

	// recentResultTTL keeps a settled refresh result around briefly so
	// callers arriving just after completion coalesce onto it.
	recentResultTTL = time.Second
)

// BaseConfig configures the shared connector choreography.
type BaseConfig struct {
	// Provider names the OAuth provider this connector talks to.
	Provider string

	// PreRefreshMargin overrides DefaultPreRefreshMargin.
	PreRefreshMargin time.Duration

	// LockWaitTimeout bounds waiting for another instance's refresh.
	// Defaults to the locker's wait timeout.
	LockWaitTimeout time.Duration

	// ConnectExtras are provider-mandated authorization URL parameters,
	// merged under any caller-supplied options.
	ConnectExtras *oauth.AuthURLOptions
}

// BaseConnector implements the provider-independent half of a
// connector: Connect, HandleCallback, Disconnect, and the refresh-aware
// AccessToken. Adapters embed it and add Fetch.
type BaseConnector struct {
	provider         string
	deps             Deps
	preRefreshMargin time.Duration
	lockWaitTimeout  time.Duration
	connectExtras    *oauth.AuthURLOptions

	group    singleflight.Group
	recentMu sync.Mutex
	recent   map[string]recentResult
}

// recentResult is a settled refresh outcome retained briefly for late
// arrivals.
type recentResult struct {
	token     *oauth.TokenSet
	err       error
	settledAt time.Time
}

// NewBase builds the shared choreography for one provider.
func NewBase(cfg BaseConfig, deps Deps) *BaseConnector {
	if cfg.PreRefreshMargin <= 0 {
		cfg.PreRefreshMargin = deps.PreRefreshMargin
	}
	if cfg.PreRefreshMargin <= 0 {
		cfg.PreRefreshMargin = DefaultPreRefreshMargin
	}
	if cfg.LockWaitTimeout <= 0 {
		cfg.LockWaitTimeout = locker.DefaultWaitTimeout
	}
	if deps.Collector == nil {
		deps.Collector = metrics.NewNoop()
	}

	return &BaseConnector{
		provider:         cfg.Provider,
		deps:             deps,
		preRefreshMargin: cfg.PreRefreshMargin,
		lockWaitTimeout:  cfg.LockWaitTimeout,
		connectExtras:    cfg.ConnectExtras,
		recent:           make(map[string]recentResult),
	}
}

// Name returns the provider name.
func (b *BaseConnector) Name() string {
	return b.provider
}

// RedirectURI returns the provider's configured redirect URI.
func (b *BaseConnector) RedirectURI() string {
	if b.deps.Auth == nil {
		return ""
	}
	return b.deps.Auth.RedirectURIFor(b.provider)
}

// ConnectOptions returns the provider-mandated authorization extras.
func (b *BaseConnector) ConnectOptions() *oauth.AuthURLOptions {
	return b.connectExtras
}

// Connect starts the authorization flow and returns the URL to redirect
// the user to.
func (b *BaseConnector) Connect(ctx context.Context, userID string, opts *oauth.AuthURLOptions) (string, error) {
	authURL, err := b.deps.Auth.CreateAuthURL(ctx, b.provider, userID, mergeAuthOptions(b.connectExtras, opts))
	if err != nil {
		return "", err
	}
	return authURL.URL, nil
}

// HandleCallback exchanges the authorization code from the provider's
// callback and stores the resulting token set.
func (b *BaseConnector) HandleCallback(ctx context.Context, userID string, params map[string]string) (*oauth.TokenSet, error) {
	if errCode := params["error"]; errCode != "" {
		return nil, oauth.ParseError(b.provider, errCode, params["error_description"], params["error_uri"])
	}

	code, state := params["code"], params["state"]
	if code == "" || state == "" {
		return nil, fmt.Errorf("%s: %w", b.provider, ErrInvalidCallback)
	}

	token, err := b.deps.Auth.ExchangeCode(ctx, b.provider, code, state, "")
	if err != nil {
		return nil, err
	}
	if err := b.deps.Tokens.Set(ctx, userID, b.provider, token); err != nil {
		return nil, err
	}

	logkit.Info("provider connected", "provider", b.provider, "user_id", userID)
	return token, nil
}

// Disconnect revokes a still-live token on a best-effort basis and
// always deletes the stored record.
func (b *BaseConnector) Disconnect(ctx context.Context, userID string) error {
	token, err := b.deps.Tokens.Get(ctx, userID, b.provider, tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		return err
	}

	if token != nil && !token.IsExpired() {
		if err := b.deps.Auth.RevokeToken(ctx, b.provider, token.AccessToken); err != nil {
			logkit.Warn("token revocation failed",
				"provider", b.provider,
				"user_id", userID,
				"error", err,
			)
		}
	}

	if err := b.deps.Tokens.Delete(ctx, userID, b.provider); err != nil {
		return err
	}
	logkit.Info("provider disconnected", "provider", b.provider, "user_id", userID)
	return nil
}

// AccessToken returns a usable access token for the user, refreshing it
// first when it is inside the pre-refresh margin.
func (b *BaseConnector) AccessToken(ctx context.Context, userID string) (string, error) {
	token, err := b.deps.Tokens.Get(ctx, userID, b.provider, tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", fmt.Errorf("%s: %w", b.provider, ErrTokenNotFound)
	}

	needsRefresh := token.HasExpiry() && token.RefreshToken != "" && token.ExpiresWithin(b.preRefreshMargin)
	if !needsRefresh {
		return token.AccessToken, nil
	}

	refreshed, err := b.refreshWithDedup(ctx, userID, token.RefreshToken)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// DoAuthorized runs a governed request with the user's bearer token,
// defaulting the rate-limit provider to this connector's.
func (b *BaseConnector) DoAuthorized(ctx context.Context, userID string, cfg httpkit.RequestConfig) (*httpkit.Response, error) {
	token, err := b.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	headers["Authorization"] = "Bearer " + token
	cfg.Headers = headers

	if cfg.Provider == "" {
		cfg.Provider = b.provider
	}
	return b.deps.HTTP.Request(ctx, cfg)
}

// refreshWithDedup collapses concurrent refreshes for one (user,
// provider): callers inside this process coalesce on a single flight,
// and across instances the distributed lock elects one refresher while
// the rest wait and reload.
func (b *BaseConnector) refreshWithDedup(ctx context.Context, userID, refreshToken string) (*oauth.TokenSet, error) {
	key := userID + "|" + b.provider

	if token, err, ok := b.recentRefresh(key); ok {
		b.dedupCount("local")
		return token, err
	}

	executed := false
	v, err, _ := b.group.Do(key, func() (any, error) {
		executed = true
		token, err := b.refreshDistributed(ctx, userID, refreshToken)
		b.keepRecent(key, token, err)
		return token, err
	})
	if !executed {
		b.dedupCount("local")
	}
	if err != nil {
		return nil, err
	}
	return v.(*oauth.TokenSet), nil
}

// refreshDistributed runs the refresh under the cross-instance lock, or
// waits out the holder and reloads what it stored.
func (b *BaseConnector) refreshDistributed(ctx context.Context, userID, refreshToken string) (*oauth.TokenSet, error) {
	acquired, err := b.deps.Locks.TryAcquire(ctx, userID, b.provider)
	if err != nil {
		// A broken lock service must not block refreshes; proceed as if
		// running alone and let the token store's last write win.
		logkit.Warn("refresh lock unavailable, refreshing without it",
			"provider", b.provider,
			"error", err,
		)
		acquired = true
	}

	if !acquired {
		b.dedupCount("distributed")
		if err := b.deps.Locks.WaitForRelease(ctx, userID, b.provider, b.lockWaitTimeout); err != nil {
			return nil, &oauth.RefreshError{Provider: b.provider, Err: err}
		}
		token, err := b.deps.Tokens.Get(ctx, userID, b.provider, tokenstore.GetOptions{IncludeExpired: true})
		if err != nil {
			return nil, err
		}
		if token == nil {
			return nil, &oauth.RefreshError{Provider: b.provider, Err: ErrTokenNotFound}
		}
		return token, nil
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := b.deps.Locks.Release(releaseCtx, userID, b.provider); err != nil && !errors.Is(err, locker.ErrNotHeld) {
			logkit.Warn("refresh lock release failed",
				"provider", b.provider,
				"error", err,
			)
		}
	}()

	return b.executeRefresh(ctx, userID, refreshToken)
}

// executeRefresh performs the provider round trip and persists the new
// token set. invalid_grant deletes the stored token: the grant is dead
// and only the user can mint a new one.
func (b *BaseConnector) executeRefresh(ctx context.Context, userID, refreshToken string) (*oauth.TokenSet, error) {
	start := time.Now()
	token, err := b.deps.Auth.RefreshToken(ctx, b.provider, refreshToken)
	b.deps.Collector.Observe(metrics.TokenRefreshDuration, map[string]string{"provider": b.provider}, time.Since(start).Seconds())

	if err != nil {
		b.deps.Collector.CounterInc(metrics.TokenRefreshTotal, map[string]string{
			"provider": b.provider, "outcome": "failure",
		})

		var refreshErr *oauth.RefreshError
		if errors.As(err, &refreshErr) && refreshErr.IsPermanent() {
			logkit.Warn("refresh token rejected, deleting stored token",
				"provider", b.provider,
				"user_id", userID,
				"code", refreshErr.Code,
			)
			if delErr := b.deps.Tokens.Delete(ctx, userID, b.provider); delErr != nil {
				logkit.Error("failed to delete dead token",
					"provider", b.provider,
					"user_id", userID,
					"error", delErr,
				)
			}
			return nil, fmt.Errorf("%s: %w", b.provider, ErrTokenExpired)
		}
		return nil, err
	}

	if err := b.deps.Tokens.Update(ctx, userID, b.provider, token); err != nil {
		b.deps.Collector.CounterInc(metrics.TokenRefreshTotal, map[string]string{
			"provider": b.provider, "outcome": "failure",
		})
		return nil, err
	}

	b.deps.Collector.CounterInc(metrics.TokenRefreshTotal, map[string]string{
		"provider": b.provider, "outcome": "success",
	})
	logkit.Debug("token refreshed", "provider", b.provider, "user_id", userID)
	return token, nil
}

// recentRefresh returns a refresh outcome settled within the last
// second, expiring stale entries as it looks.
func (b *BaseConnector) recentRefresh(key string) (*oauth.TokenSet, error, bool) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	r, ok := b.recent[key]
	if !ok {
		return nil, nil, false
	}
	if time.Since(r.settledAt) > recentResultTTL {
		delete(b.recent, key)
		return nil, nil, false
	}
	return r.token, r.err, true
}

func (b *BaseConnector) keepRecent(key string, token *oauth.TokenSet, err error) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	now := time.Now()
	for k, r := range b.recent {
		if now.Sub(r.settledAt) > recentResultTTL {
			delete(b.recent, k)
		}
	}
	b.recent[key] = recentResult{token: token, err: err, settledAt: now}
}

func (b *BaseConnector) dedupCount(scope string) {
	b.deps.Collector.CounterInc(metrics.TokenRefreshDedupTotal, map[string]string{
		"provider": b.provider, "scope": scope,
	})
}

// mergeAuthOptions layers caller options over provider-mandated extras.
func mergeAuthOptions(extras, opts *oauth.AuthURLOptions) *oauth.AuthURLOptions {
	if extras == nil {
		return opts
	}
	if opts == nil {
		return extras
	}

	merged := oauth.AuthURLOptions{
		Prompt:      extras.Prompt,
		LoginHint:   extras.LoginHint,
		ExtraParams: make(map[string]string, len(extras.ExtraParams)+len(opts.ExtraParams)),
	}
	for k, v := range extras.ExtraParams {
		merged.ExtraParams[k] = v
	}
	for k, v := range opts.ExtraParams {
		merged.ExtraParams[k] = v
	}
	if opts.Prompt != "" {
		merged.Prompt = opts.Prompt
	}
	if opts.LoginHint != "" {
		merged.LoginHint = opts.LoginHint
	}
	return &merged
}
