package connector_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gobeaver/ingest/connector"
	"github.com/gobeaver/ingest/httpkit"
	"github.com/gobeaver/ingest/locker"
	"github.com/gobeaver/ingest/metrics"
	"github.com/gobeaver/ingest/oauth"
	"github.com/gobeaver/ingest/tokenstore"
	"github.com/gobeaver/ingest/tokenstore/driver/memory"
)

// fakeIdP scripts an OAuth provider's token and revocation endpoints and
// counts the grants it serves.
type fakeIdP struct {
	mu               sync.Mutex
	exchangeCalls    int
	refreshCalls     int
	revokeCalls      int
	lastExchangeForm url.Values
	refreshDelay     time.Duration
	refreshStatus    int
	refreshBody      string
	revokeStatus     int
}

func newFakeIdP() *fakeIdP {
	return &fakeIdP{
		refreshStatus: http.StatusOK,
		refreshBody:   `{"access_token":"refreshed-access","refresh_token":"refreshed-refresh","expires_in":3600,"token_type":"Bearer"}`,
		revokeStatus:  http.StatusOK,
	}
}

func (f *fakeIdP) setRefreshResponse(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshStatus = status
	f.refreshBody = body
}

func (f *fakeIdP) setRefreshDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshDelay = d
}

func (f *fakeIdP) setRevokeStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeStatus = status
}

func (f *fakeIdP) counts() (exchanges, refreshes, revokes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls, f.refreshCalls, f.revokeCalls
}

func (f *fakeIdP) exchangeForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastExchangeForm
}

func (f *fakeIdP) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			f.mu.Lock()
			f.exchangeCalls++
			f.lastExchangeForm = r.PostForm
			f.mu.Unlock()
			w.Write([]byte(`{"access_token":"exchanged-access","refresh_token":"exchanged-refresh","expires_in":3600,"token_type":"Bearer"}`))
		case "refresh_token":
			f.mu.Lock()
			f.refreshCalls++
			delay, status, body := f.refreshDelay, f.refreshStatus, f.refreshBody
			f.mu.Unlock()
			if delay > 0 {
				time.Sleep(delay)
			}
			w.WriteHeader(status)
			w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		}
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.revokeCalls++
		status := f.revokeStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	})
	return mux
}

// newTestDeps wires deps for one github provider against the fake IdP,
// with a memory token store and a local-only locker.
func newTestDeps(t *testing.T, idp *fakeIdP) (connector.Deps, *metrics.Memory) {
	t.Helper()

	srv := httptest.NewServer(idp.handler())
	t.Cleanup(srv.Close)

	auth, err := oauth.New(context.Background(), oauth.Config{
		Providers: map[string]oauth.ProviderConfig{
			"github": {
				ClientID:              "client-id",
				ClientSecret:          "client-secret",
				RedirectURI:           "http://localhost:3000/callback/github",
				Scopes:                []string{"user", "repo"},
				AuthorizationEndpoint: "https://github.test/login/oauth/authorize",
				TokenEndpoint:         srv.URL + "/token",
				RevocationEndpoint:    srv.URL + "/revoke",
				UsePKCE:               true,
			},
		},
	})
	if err != nil {
		t.Fatalf("oauth.New() error = %v", err)
	}
	t.Cleanup(func() { auth.Close() })

	locks, err := locker.NewWithClient(nil, locker.Config{})
	if err != nil {
		t.Fatalf("locker.NewWithClient() error = %v", err)
	}

	collector := metrics.NewMemory()
	deps := connector.Deps{
		Auth:      auth,
		Tokens:    tokenstore.NewWithBackend(memory.New(), tokenstore.Config{}),
		Locks:     locks,
		Collector: collector,
	}
	return deps, collector
}

func expiringToken() *oauth.TokenSet {
	return &oauth.TokenSet{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(2 * time.Minute),
		TokenType:    "Bearer",
	}
}

func freshToken() *oauth.TokenSet {
	return &oauth.TokenSet{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		ExpiresAt:    time.Now().Add(2 * time.Hour),
		TokenType:    "Bearer",
	}
}

func TestBaseAccessTokenFresh(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", freshToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := base.AccessToken(ctx, "u1")
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if got != "fresh-access" {
		t.Errorf("AccessToken() = %q, want fresh-access", got)
	}
	if _, refreshes, _ := idp.counts(); refreshes != 0 {
		t.Errorf("refresh calls = %d, want 0", refreshes)
	}
}

func TestBaseAccessTokenNotFound(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)

	_, err := base.AccessToken(context.Background(), "nobody")
	if !errors.Is(err, connector.ErrTokenNotFound) {
		t.Errorf("AccessToken() error = %v, want ErrTokenNotFound", err)
	}
}

func TestBaseRefreshesExpiringToken(t *testing.T) {
	idp := newFakeIdP()
	deps, collector := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", expiringToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := base.AccessToken(ctx, "u1")
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if got != "refreshed-access" {
		t.Errorf("AccessToken() = %q, want refreshed-access", got)
	}

	stored, err := deps.Tokens.Get(ctx, "u1", "github")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored == nil || stored.AccessToken != "refreshed-access" {
		t.Errorf("stored token = %+v, want refreshed-access persisted", stored)
	}
	if stored != nil && stored.RefreshToken != "refreshed-refresh" {
		t.Errorf("stored refresh token = %q, want refreshed-refresh", stored.RefreshToken)
	}

	if _, refreshes, _ := idp.counts(); refreshes != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshes)
	}
	success := collector.Counter(metrics.TokenRefreshTotal, map[string]string{
		"provider": "github", "outcome": "success",
	})
	if success != 1 {
		t.Errorf("success counter = %v, want 1", success)
	}
	if obs := collector.Observations(metrics.TokenRefreshDuration, map[string]string{"provider": "github"}); len(obs) != 1 {
		t.Errorf("duration observations = %d, want 1", len(obs))
	}
}

func TestBaseConcurrentRefreshCoalesces(t *testing.T) {
	idp := newFakeIdP()
	idp.setRefreshDelay(150 * time.Millisecond)
	deps, collector := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", expiringToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	const callers = 8
	results := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = base.AccessToken(ctx, "u1")
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i] != "refreshed-access" {
			t.Errorf("caller %d token = %q, want refreshed-access", i, results[i])
		}
	}

	if _, refreshes, _ := idp.counts(); refreshes != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshes)
	}
	local := collector.Counter(metrics.TokenRefreshDedupTotal, map[string]string{
		"provider": "github", "scope": "local",
	})
	if local != callers-1 {
		t.Errorf("local dedup counter = %v, want %d", local, callers-1)
	}
}

func TestBaseRefreshInvalidGrantDeletesToken(t *testing.T) {
	idp := newFakeIdP()
	idp.setRefreshResponse(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"token revoked"}`)
	deps, collector := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", expiringToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, err := base.AccessToken(ctx, "u1")
	if !errors.Is(err, connector.ErrTokenExpired) {
		t.Fatalf("AccessToken() error = %v, want ErrTokenExpired", err)
	}

	stored, err := deps.Tokens.Get(ctx, "u1", "github", tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != nil {
		t.Errorf("stored token = %+v, want deleted", stored)
	}

	failure := collector.Counter(metrics.TokenRefreshTotal, map[string]string{
		"provider": "github", "outcome": "failure",
	})
	if failure != 1 {
		t.Errorf("failure counter = %v, want 1", failure)
	}
}

func TestBaseRefreshTransientFailureKeepsToken(t *testing.T) {
	idp := newFakeIdP()
	idp.setRefreshResponse(http.StatusServiceUnavailable, `{"error":"temporarily_unavailable"}`)
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", expiringToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, err := base.AccessToken(ctx, "u1")
	var refErr *oauth.RefreshError
	if !errors.As(err, &refErr) {
		t.Fatalf("AccessToken() error = %v, want *oauth.RefreshError", err)
	}
	if refErr.IsPermanent() {
		t.Errorf("IsPermanent() = true, want false for %q", refErr.Code)
	}

	stored, err := deps.Tokens.Get(ctx, "u1", "github", tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored == nil {
		t.Error("stored token deleted after transient failure, want kept")
	}
}

func TestBaseConnectAndCallback(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	authURL, err := base.Connect(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("Connect() returned unparseable URL %q: %v", authURL, err)
	}
	q := parsed.Query()
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Errorf("auth URL missing PKCE challenge: %v", q)
	}
	state := q.Get("state")
	if state == "" {
		t.Fatal("auth URL has no state")
	}

	token, err := base.HandleCallback(ctx, "u1", map[string]string{"code": "auth-code", "state": state})
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if token.AccessToken != "exchanged-access" {
		t.Errorf("callback token = %q, want exchanged-access", token.AccessToken)
	}

	form := idp.exchangeForm()
	if form.Get("code") != "auth-code" {
		t.Errorf("exchange code = %q, want auth-code", form.Get("code"))
	}
	if form.Get("code_verifier") == "" {
		t.Error("exchange did not send code_verifier")
	}

	stored, err := deps.Tokens.Get(ctx, "u1", "github")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored == nil || stored.AccessToken != "exchanged-access" {
		t.Errorf("stored token = %+v, want exchanged-access persisted", stored)
	}
}

func TestBaseHandleCallbackMissingParams(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)

	tests := []struct {
		name   string
		params map[string]string
	}{
		{"no params", map[string]string{}},
		{"missing state", map[string]string{"code": "auth-code"}},
		{"missing code", map[string]string{"state": "some-state"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := base.HandleCallback(context.Background(), "u1", tt.params)
			if !errors.Is(err, connector.ErrInvalidCallback) {
				t.Errorf("HandleCallback() error = %v, want ErrInvalidCallback", err)
			}
		})
	}
}

func TestBaseHandleCallbackAccessDenied(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)

	_, err := base.HandleCallback(context.Background(), "u1", map[string]string{
		"error":             "access_denied",
		"error_description": "user said no",
	})
	if !errors.Is(err, oauth.ErrAccessDenied) {
		t.Errorf("HandleCallback() error = %v, want ErrAccessDenied", err)
	}
}

func TestBaseDisconnectRevokesAndDeletes(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", freshToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := base.Disconnect(ctx, "u1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	if _, _, revokes := idp.counts(); revokes != 1 {
		t.Errorf("revoke calls = %d, want 1", revokes)
	}
	stored, err := deps.Tokens.Get(ctx, "u1", "github", tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != nil {
		t.Errorf("stored token = %+v, want deleted", stored)
	}
}

func TestBaseDisconnectRevocationFailureStillDeletes(t *testing.T) {
	idp := newFakeIdP()
	idp.setRevokeStatus(http.StatusInternalServerError)
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", freshToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := base.Disconnect(ctx, "u1"); err != nil {
		t.Fatalf("Disconnect() error = %v, want nil despite failed revocation", err)
	}

	stored, err := deps.Tokens.Get(ctx, "u1", "github", tokenstore.GetOptions{IncludeExpired: true})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != nil {
		t.Errorf("stored token = %+v, want deleted", stored)
	}
}

func TestBaseDisconnectNoToken(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)

	if err := base.Disconnect(context.Background(), "nobody"); err != nil {
		t.Errorf("Disconnect() error = %v, want nil for unknown user", err)
	}
	if _, _, revokes := idp.counts(); revokes != 0 {
		t.Errorf("revoke calls = %d, want 0", revokes)
	}
}

func TestBaseConnectMergesExtras(t *testing.T) {
	idp := newFakeIdP()
	deps, _ := newTestDeps(t, idp)
	base := connector.NewBase(connector.BaseConfig{
		Provider: "github",
		ConnectExtras: &oauth.AuthURLOptions{
			Prompt:      "consent",
			ExtraParams: map[string]string{"access_type": "offline"},
		},
	}, deps)

	authURL, err := base.Connect(context.Background(), "u1", &oauth.AuthURLOptions{
		LoginHint:   "user@example.com",
		ExtraParams: map[string]string{"access_type": "online"},
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	q := parsed.Query()
	if q.Get("prompt") != "consent" {
		t.Errorf("prompt = %q, want consent from connector extras", q.Get("prompt"))
	}
	if q.Get("login_hint") != "user@example.com" {
		t.Errorf("login_hint = %q, want caller value", q.Get("login_hint"))
	}
	if q.Get("access_type") != "online" {
		t.Errorf("access_type = %q, want caller override to win", q.Get("access_type"))
	}
}

func TestBaseDistributedDedup(t *testing.T) {
	idp := newFakeIdP()
	deps, collector := newTestDeps(t, idp)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	locks, err := locker.NewWithClient(client, locker.Config{KeyPrefix: "test:refresh:"})
	if err != nil {
		t.Fatalf("locker.NewWithClient() error = %v", err)
	}
	deps.Locks = locks

	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", expiringToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Another instance is mid-refresh: it holds the lock, and will store
	// its result and release shortly.
	lockKey := "test:refresh:u1:github"
	if err := mr.Set(lockKey, "peer-holder"); err != nil {
		t.Fatalf("seeding lock: %v", err)
	}
	go func() {
		time.Sleep(200 * time.Millisecond)
		deps.Tokens.Update(context.Background(), "u1", "github", &oauth.TokenSet{
			AccessToken:  "peer-access",
			RefreshToken: "peer-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		})
		mr.Del(lockKey)
	}()

	got, err := base.AccessToken(ctx, "u1")
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if got != "peer-access" {
		t.Errorf("AccessToken() = %q, want peer-access from the other instance", got)
	}

	if _, refreshes, _ := idp.counts(); refreshes != 0 {
		t.Errorf("refresh calls = %d, want 0 (peer refreshed)", refreshes)
	}
	distributed := collector.Counter(metrics.TokenRefreshDedupTotal, map[string]string{
		"provider": "github", "scope": "distributed",
	})
	if distributed != 1 {
		t.Errorf("distributed dedup counter = %v, want 1", distributed)
	}
}

func TestBaseDoAuthorized(t *testing.T) {
	idp := newFakeIdP()
	deps, collector := newTestDeps(t, idp)

	var gotAuth, gotCustom string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("Accept")
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(api.Close)

	httpClient, err := httpkit.New(httpkit.Config{
		RateLimits: map[string]httpkit.RateLimitConfig{
			"github": {QPS: 100, Concurrency: 10},
		},
		Collector: collector,
	})
	if err != nil {
		t.Fatalf("httpkit.New() error = %v", err)
	}
	t.Cleanup(func() { httpClient.Close() })
	deps.HTTP = httpClient

	base := connector.NewBase(connector.BaseConfig{Provider: "github"}, deps)
	ctx := context.Background()

	if err := deps.Tokens.Set(ctx, "u1", "github", freshToken()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	resp, err := base.DoAuthorized(ctx, "u1", httpkit.RequestConfig{
		URL:     api.URL + "/user/starred",
		Headers: map[string]string{"Accept": "application/vnd.github+json"},
	})
	if err != nil {
		t.Fatalf("DoAuthorized() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if gotAuth != "Bearer fresh-access" {
		t.Errorf("Authorization = %q, want Bearer fresh-access", gotAuth)
	}
	if gotCustom != "application/vnd.github+json" {
		t.Errorf("Accept = %q, caller header lost", gotCustom)
	}

	// The rate-limit bucket defaults to the connector's provider even
	// though the test server host matches nothing.
	initiated := collector.Counter(metrics.HTTPRequestsTotal, map[string]string{
		"provider": "github", "method": "GET", "status": "initiated",
	})
	if initiated != 1 {
		t.Errorf("initiated counter for github = %v, want 1", initiated)
	}
}
