package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gobeaver/ingest/logkit"
)

// DefaultStateTTL bounds how long a pending authorization stays valid.
const DefaultStateTTL = 10 * time.Minute

// Config configures the OAuth service.
type Config struct {
	// Providers maps provider names to their OAuth client configuration.
	Providers map[string]ProviderConfig

	// StateStore holds pending authorizations. Defaults to an in-memory
	// store with a one-minute sweeper.
	StateStore StateStore

	// HTTPClient is used for token endpoint and discovery requests.
	// Defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// StateTTL overrides DefaultStateTTL.
	StateTTL time.Duration
}

// resolvedProvider is a provider config with its endpoints settled at
// construction time, either explicit, discovered, or built-in.
type resolvedProvider struct {
	cfg        ProviderConfig
	endpoints  Endpoints
	authMethod string
	discovered bool
}

// Service drives the OAuth 2.0 authorization code flow for a fixed set of
// providers. The provider set is immutable after New; all methods are safe
// for concurrent use.
type Service struct {
	providers  map[string]resolvedProvider
	states     StateStore
	httpClient *http.Client
	stateTTL   time.Duration
	ownStates  bool
}

// New builds a Service, resolving endpoints for each configured provider.
// Providers with a discovery URL are resolved against their OIDC metadata;
// the rest fall back to explicit endpoints, then built-in defaults.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrInvalidConfig)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	stateTTL := cfg.StateTTL
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}

	s := &Service{
		providers:  make(map[string]resolvedProvider, len(cfg.Providers)),
		states:     cfg.StateStore,
		httpClient: httpClient,
		stateTTL:   stateTTL,
	}
	if s.states == nil {
		s.states = NewMemoryStateStore(time.Minute)
		s.ownStates = true
	}

	for name, pc := range cfg.Providers {
		rp, err := s.resolveProvider(ctx, name, pc)
		if err != nil {
			if s.ownStates {
				s.states.Close()
			}
			return nil, err
		}
		s.providers[name] = rp
	}

	return s, nil
}

// resolveProvider validates a provider config and settles its endpoints.
func (s *Service) resolveProvider(ctx context.Context, name string, pc ProviderConfig) (resolvedProvider, error) {
	if pc.ClientID == "" {
		return resolvedProvider{}, fmt.Errorf("%w: provider %q has no client ID", ErrInvalidConfig, name)
	}
	if pc.RedirectURI == "" {
		return resolvedProvider{}, fmt.Errorf("%w: provider %q has no redirect URI", ErrInvalidConfig, name)
	}

	rp := resolvedProvider{
		cfg:        pc,
		authMethod: resolveAuthMethod(name, pc),
	}

	if pc.DiscoveryURL != "" {
		ep, err := Discover(ctx, s.httpClient, pc.DiscoveryURL)
		if err != nil {
			return resolvedProvider{}, fmt.Errorf("provider %q discovery failed: %w", name, err)
		}
		rp.endpoints = ep
		rp.discovered = true
		logkit.Debug("resolved provider endpoints via discovery",
			"provider", name,
			"issuer", ep.Issuer,
		)
	} else if ep, ok := DefaultEndpoints(name); ok {
		rp.endpoints = ep
	}

	// Explicit endpoints take precedence over discovered and built-in ones.
	if pc.AuthorizationEndpoint != "" {
		rp.endpoints.Authorization = pc.AuthorizationEndpoint
	}
	if pc.TokenEndpoint != "" {
		rp.endpoints.Token = pc.TokenEndpoint
	}
	if pc.RevocationEndpoint != "" {
		rp.endpoints.Revocation = pc.RevocationEndpoint
	}

	if rp.endpoints.Authorization == "" || rp.endpoints.Token == "" {
		return resolvedProvider{}, fmt.Errorf("%w: provider %q has no authorization or token endpoint", ErrInvalidConfig, name)
	}

	return rp, nil
}

// HasProvider reports whether a provider is configured.
func (s *Service) HasProvider(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// Providers returns the names of all configured providers.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// EndpointsFor returns the resolved endpoints for a provider.
func (s *Service) EndpointsFor(name string) (Endpoints, error) {
	rp, ok := s.providers[name]
	if !ok {
		return Endpoints{}, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return rp.endpoints, nil
}

// RedirectURIFor returns the configured redirect URI for a provider, or
// empty when the provider is not configured.
func (s *Service) RedirectURIFor(name string) string {
	rp, ok := s.providers[name]
	if !ok {
		return ""
	}
	return rp.cfg.RedirectURI
}

// PendingAuthorizations counts authorization flows that have been started
// but not yet completed or expired.
func (s *Service) PendingAuthorizations(ctx context.Context) (int, error) {
	return s.states.Count(ctx)
}

// AuthURL is the outcome of starting an authorization: the URL to redirect
// the user to and the state that will return on the callback.
type AuthURL struct {
	URL   string
	State string
}

// CreateAuthURL mints state (and a PKCE challenge when enabled), records
// the pending authorization, and returns the provider authorization URL.
func (s *Service) CreateAuthURL(ctx context.Context, provider, userID string, opts *AuthURLOptions) (*AuthURL, error) {
	rp, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}

	state, err := GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	challenge := &PKCEChallenge{
		Provider:  provider,
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	params := url.Values{
		"response_type": {"code"},
		"client_id":     {rp.cfg.ClientID},
		"redirect_uri":  {rp.cfg.RedirectURI},
		"state":         {state},
	}
	if len(rp.cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(rp.cfg.Scopes, " "))
	}

	if rp.cfg.UsePKCE {
		pkce, err := GeneratePKCEChallenge()
		if err != nil {
			return nil, fmt.Errorf("failed to generate PKCE challenge: %w", err)
		}
		challenge.CodeVerifier = pkce.CodeVerifier
		challenge.CodeChallenge = pkce.CodeChallenge
		challenge.Method = pkce.Method
		params.Set("code_challenge", pkce.CodeChallenge)
		params.Set("code_challenge_method", pkce.Method)
	}

	// A nonce is only meaningful when the provider is a known OIDC issuer,
	// which requires discovered endpoints.
	if rp.cfg.UseOIDC && rp.discovered {
		nonce, err := GenerateNonce()
		if err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
		challenge.Nonce = nonce
		params.Set("nonce", nonce)
	}

	for k, v := range rp.cfg.ExtraAuthParams {
		params.Set(k, v)
	}
	if opts != nil {
		if opts.Prompt != "" {
			params.Set("prompt", opts.Prompt)
		}
		if opts.LoginHint != "" {
			params.Set("login_hint", opts.LoginHint)
		}
		for k, v := range opts.ExtraParams {
			params.Set(k, v)
		}
	}

	if err := s.states.Store(ctx, state, challenge, s.stateTTL); err != nil {
		return nil, fmt.Errorf("failed to store pending authorization: %w", err)
	}

	// Encode renders spaces as "+", which some providers reject in scope
	// lists. A literal plus is already escaped as %2B at this point.
	query := strings.ReplaceAll(params.Encode(), "+", "%20")

	return &AuthURL{
		URL:   rp.endpoints.Authorization + "?" + query,
		State: state,
	}, nil
}

// ExchangeCode redeems an authorization code for tokens. The state must
// match a pending authorization for the same provider; the pending entry
// is deleted on success and on any provider-reported protocol error, but
// kept on transport failures so the callback may be retried. An empty
// redirectURI falls back to the provider configuration.
func (s *Service) ExchangeCode(ctx context.Context, provider, code, state, redirectURI string) (*TokenSet, error) {
	rp, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}

	challenge, err := s.states.Retrieve(ctx, state)
	if err != nil {
		return nil, err
	}
	if challenge.Provider != provider {
		return nil, fmt.Errorf("%w: state belongs to provider %q", ErrStateNotFound, challenge.Provider)
	}
	if challenge.ExpiredAt(time.Now(), s.stateTTL) {
		s.states.Delete(ctx, state)
		return nil, ErrStateExpired
	}

	if redirectURI == "" {
		redirectURI = rp.cfg.RedirectURI
	}
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if challenge.CodeVerifier != "" {
		data.Set("code_verifier", challenge.CodeVerifier)
	}

	token, err := s.tokenRequest(ctx, provider, rp, data)
	if err != nil {
		// Protocol errors are final for this code; retrying with the same
		// state cannot succeed. Transport errors keep the entry alive.
		var oaErr *Error
		if errors.As(err, &oaErr) {
			s.states.Delete(ctx, state)
		}
		return nil, err
	}

	if challenge.Nonce != "" {
		if err := validateNonce(token.IDToken, challenge.Nonce); err != nil {
			s.states.Delete(ctx, state)
			return nil, err
		}
	}

	s.states.Delete(ctx, state)
	return token, nil
}

// RefreshToken redeems a refresh token for a fresh token set. Failures are
// reported as *RefreshError so callers can distinguish permanent grant
// failures from transient ones. When the provider does not rotate refresh
// tokens the previous one is carried over.
func (s *Service) RefreshToken(ctx context.Context, provider, refreshToken string) (*TokenSet, error) {
	rp, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	token, err := s.tokenRequest(ctx, provider, rp, data)
	if err != nil {
		var oaErr *Error
		if errors.As(err, &oaErr) {
			return nil, &RefreshError{Provider: provider, Code: oaErr.Code, Err: err}
		}
		return nil, &RefreshError{Provider: provider, Err: err}
	}

	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// RevokeToken asks the provider to revoke a token. Providers without a
// revocation endpoint return ErrNoRevocationEndpoint.
func (s *Service) RevokeToken(ctx context.Context, provider, token string) error {
	rp, ok := s.providers[provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}
	if rp.endpoints.Revocation == "" {
		return fmt.Errorf("%w: %s", ErrNoRevocationEndpoint, provider)
	}

	data := url.Values{"token": {token}}
	if rp.authMethod == AuthMethodPost {
		data.Set("client_id", rp.cfg.ClientID)
		if rp.cfg.ClientSecret != "" {
			data.Set("client_secret", rp.cfg.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", rp.endpoints.Revocation, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if rp.authMethod == AuthMethodBasic {
		req.SetBasicAuth(rp.cfg.ClientID, rp.cfg.ClientSecret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("revocation returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases the state store if this service created it.
func (s *Service) Close() error {
	if s.ownStates {
		return s.states.Close()
	}
	return nil
}

// tokenRequest posts a form to the provider token endpoint and parses the
// response. Provider-reported failures come back as *Error.
func (s *Service) tokenRequest(ctx context.Context, provider string, rp resolvedProvider, data url.Values) (*TokenSet, error) {
	if rp.authMethod == AuthMethodPost {
		data.Set("client_id", rp.cfg.ClientID)
		if rp.cfg.ClientSecret != "" {
			data.Set("client_secret", rp.cfg.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", rp.endpoints.Token, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if rp.authMethod == AuthMethodBasic {
		req.SetBasicAuth(rp.cfg.ClientID, rp.cfg.ClientSecret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		RefreshToken     string `json:"refresh_token"`
		ExpiresIn        int    `json:"expires_in"`
		IDToken          string `json:"id_token"`
		Scope            string `json:"scope"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	// Some providers report protocol errors in a 200 body.
	if tokenResp.Error != "" {
		return nil, ParseError(provider, tokenResp.Error, tokenResp.ErrorDescription, tokenResp.ErrorURI)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}

	token := &TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		Scope:        tokenResp.Scope,
		TokenType:    tokenResp.TokenType,
		IDToken:      tokenResp.IDToken,
	}
	if tokenResp.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return token, nil
}

// validateNonce checks the nonce claim of an ID token against the value
// minted at authorization time. The token signature is verified by the
// provider relationship; only claim integrity is checked here.
func validateNonce(idToken, want string) error {
	if idToken == "" {
		return fmt.Errorf("%w: provider returned no ID token", ErrNonceMismatch)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return fmt.Errorf("%w: failed to parse ID token: %v", ErrNonceMismatch, err)
	}

	got, _ := claims["nonce"].(string)
	if got != want {
		return ErrNonceMismatch
	}
	return nil
}
