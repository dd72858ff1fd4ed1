package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gobeaver/ingest/connector"
	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/locker"
	"github.com/gobeaver/ingest/metrics"
	"github.com/gobeaver/ingest/normalize"
	"github.com/gobeaver/ingest/oauth"
	"github.com/gobeaver/ingest/tokenstore"
)

// refreshEnv is the composed stack for refresh scenarios: redis-backed
// token store and locks on miniredis, a fake IdP counting refresh grants,
// and a fake API that only accepts the refreshed access token.
type refreshEnv struct {
	tokens    *tokenstore.Store
	github    *connector.GitHub
	collector *metrics.Memory
	refreshes *atomic.Int32
}

func newRefreshEnv(t *testing.T) *refreshEnv {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	var refreshes atomic.Int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unsupported_grant_type"}`))
			return
		}
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"refreshed-access","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(idp.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer refreshed-access" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Bad credentials"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":101,"full_name":"gobeaver/dam","html_url":"https://github.com/gobeaver/dam","owner":{"login":"gobeaver"}}]`))
	}))
	t.Cleanup(api.Close)

	tokens, err := tokenstore.New(ctx, tokenstore.Config{
		Backend:       "redis",
		URL:           "redis://" + mr.Addr(),
		EncryptionKey: strings.Repeat("ab", 32),
	})
	if err != nil {
		t.Fatalf("tokenstore.New() error = %v", err)
	}
	t.Cleanup(func() { tokens.Close() })

	locks, err := locker.New(ctx, locker.Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("locker.New() error = %v", err)
	}
	t.Cleanup(func() { locks.Close() })

	auth, err := oauth.New(ctx, oauth.Config{
		Providers: map[string]oauth.ProviderConfig{
			"github": {
				ClientID:              "test-client-id",
				ClientSecret:          "test-secret",
				RedirectURI:           "http://localhost:3000/callback/github",
				AuthorizationEndpoint: "https://github.example/authorize",
				TokenEndpoint:         idp.URL + "/token",
			},
		},
	})
	if err != nil {
		t.Fatalf("oauth.New() error = %v", err)
	}
	t.Cleanup(func() { auth.Close() })

	httpClient, err := httpkit.New(httpkit.Config{
		Timeout: 5 * time.Second,
		RateLimits: map[string]httpkit.RateLimitConfig{
			"github": {QPS: 100, Concurrency: 10},
		},
	})
	if err != nil {
		t.Fatalf("httpkit.New() error = %v", err)
	}
	t.Cleanup(func() { httpClient.Close() })

	collector := metrics.NewMemory()
	github := connector.NewGitHub(connector.Deps{
		Auth:      auth,
		Tokens:    tokens,
		HTTP:      httpClient,
		Locks:     locks,
		Collector: collector,
	})
	github.BaseURL = api.URL

	return &refreshEnv{
		tokens:    tokens,
		github:    github,
		collector: collector,
		refreshes: &refreshes,
	}
}

func (e *refreshEnv) seedExpiringToken(t *testing.T, ttl time.Duration) {
	t.Helper()
	err := e.tokens.Set(context.Background(), "u1", "github", &oauth.TokenSet{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(ttl),
	})
	if err != nil {
		t.Fatalf("seeding token: %v", err)
	}
}

func TestFetch_RefreshesExpiredTokenOnce(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()

	env.seedExpiringToken(t, time.Second)
	time.Sleep(2 * time.Second)

	items, err := env.github.Fetch(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := env.refreshes.Load(); got != 1 {
		t.Errorf("token endpoint saw %d refresh grants, want 1", got)
	}
	if len(items) != 1 {
		t.Fatalf("Fetch() returned %d items, want 1", len(items))
	}
	if items[0].Source != "github" || items[0].Title != "gobeaver/dam" {
		t.Errorf("item = %s/%s, want github/gobeaver/dam", items[0].Source, items[0].Title)
	}
	if want := normalize.ItemID("github", "101", "u1"); items[0].ID != want {
		t.Errorf("item ID = %s, want deterministic %s", items[0].ID, want)
	}

	stored, err := env.tokens.Get(ctx, "u1", "github")
	if err != nil {
		t.Fatalf("Get() after refresh error = %v", err)
	}
	if stored == nil {
		t.Fatal("no token persisted after refresh")
	}
	if stored.AccessToken != "refreshed-access" {
		t.Errorf("persisted access token = %q, want refreshed-access", stored.AccessToken)
	}
	if stored.RefreshToken != "refresh-1" {
		t.Errorf("persisted refresh token = %q, want the carried-over refresh-1", stored.RefreshToken)
	}
	if until := time.Until(stored.ExpiresAt); until < 3590*time.Second || until > 3610*time.Second {
		t.Errorf("persisted expiry in %v, want about an hour out", until)
	}

	success := env.collector.Counter(metrics.TokenRefreshTotal, map[string]string{
		"provider": "github", "outcome": "success",
	})
	if success != 1 {
		t.Errorf("refresh success counter = %v, want 1", success)
	}
}

func TestFetch_ConcurrentCallsShareOneRefresh(t *testing.T) {
	env := newRefreshEnv(t)
	ctx := context.Background()

	env.seedExpiringToken(t, time.Second)
	time.Sleep(2 * time.Second)

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := env.github.Fetch(ctx, "u1", nil)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Fetch() error = %v", err)
	}

	if got := env.refreshes.Load(); got != 1 {
		t.Errorf("token endpoint saw %d refresh grants, want 1", got)
	}
}
