package oauth

import (
	"context"
	"time"
)

// TokenSet is the credential material returned by a provider's token
// endpoint. It is a value type: refresh produces a new TokenSet that
// replaces the old one atomically in storage.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// HasExpiry reports whether the provider communicated a lifetime for the
// access token.
func (t *TokenSet) HasExpiry() bool {
	return !t.ExpiresAt.IsZero()
}

// IsExpired reports whether the access token's lifetime has elapsed.
// Tokens without an expiry never report expired.
func (t *TokenSet) IsExpired() bool {
	return t.HasExpiry() && time.Now().After(t.ExpiresAt)
}

// ExpiresWithin reports whether the token expires inside the given margin.
func (t *TokenSet) ExpiresWithin(margin time.Duration) bool {
	return t.HasExpiry() && !t.ExpiresAt.After(time.Now().Add(margin))
}

// PKCEChallenge is the per-authorization secret material minted by
// CreateAuthURL and consumed by ExchangeCode. Entries are keyed by the
// state parameter and live for StateTTL.
type PKCEChallenge struct {
	CodeVerifier  string    `json:"code_verifier"`
	CodeChallenge string    `json:"code_challenge"`
	Method        string    `json:"method"`
	Nonce         string    `json:"nonce,omitempty"`
	Provider      string    `json:"provider"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExpiredAt reports whether the challenge is older than ttl at the given
// instant.
func (c *PKCEChallenge) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) > ttl
}

// Client authentication methods for the token endpoint.
const (
	AuthMethodPost  = "client_secret_post"
	AuthMethodBasic = "client_secret_basic"
)

// ProviderConfig declares one provider's OAuth client registration.
// Endpoints may be given explicitly, resolved from DiscoveryURL, or left
// empty for providers with built-in defaults.
type ProviderConfig struct {
	ClientID     string   `json:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `json:"client_secret,omitempty" env:"CLIENT_SECRET"`
	RedirectURI  string   `json:"redirect_uri" env:"REDIRECT_URI"`
	Scopes       []string `json:"scopes,omitempty" env:"SCOPES"`

	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty" env:"AUTHORIZATION_ENDPOINT"`
	TokenEndpoint         string `json:"token_endpoint,omitempty" env:"TOKEN_ENDPOINT"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty" env:"REVOCATION_ENDPOINT"`

	// DiscoveryURL points at an OIDC issuer; when set the endpoints above
	// are resolved from its /.well-known/openid-configuration document.
	DiscoveryURL string `json:"discovery_url,omitempty" env:"DISCOVERY_URL"`

	// UsePKCE attaches a code challenge to every authorization request.
	UsePKCE bool `json:"use_pkce" env:"USE_PKCE"`

	// UseOIDC mints a nonce and validates it against the returned ID
	// token. Honored only for providers whose endpoints came from
	// discovery.
	UseOIDC bool `json:"use_oidc" env:"USE_OIDC"`

	// AuthMethod selects how client credentials reach the token endpoint:
	// form fields (client_secret_post, the default) or an HTTP Basic
	// header. Some providers accept only one.
	AuthMethod string `json:"auth_method,omitempty" env:"AUTH_METHOD"`

	// ExtraAuthParams are appended to every authorization URL for this
	// provider, e.g. access_type=offline.
	ExtraAuthParams map[string]string `json:"extra_auth_params,omitempty"`
}

// Endpoints is the resolved endpoint set for one provider.
type Endpoints struct {
	Authorization string
	Token         string
	Revocation    string
	Issuer        string
}

// AuthURLOptions carries caller-supplied additions to an authorization URL.
type AuthURLOptions struct {
	Prompt    string
	LoginHint string
	// ExtraParams are merged into the query string after the provider's
	// own extras; caller values win on conflict.
	ExtraParams map[string]string
}

// StateStore tracks pending authorizations keyed by the state parameter.
// Implementations must be safe for concurrent use.
type StateStore interface {
	// Store saves a challenge under its state key with the given TTL.
	Store(ctx context.Context, state string, ch *PKCEChallenge, ttl time.Duration) error

	// Retrieve returns the challenge for a state, or ErrStateNotFound.
	// Expiry is the caller's judgment: entries past their TTL may still
	// be returned if the backend has not swept them yet.
	Retrieve(ctx context.Context, state string) (*PKCEChallenge, error)

	// Delete removes a state entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, state string) error

	// Count returns the number of pending authorizations.
	Count(ctx context.Context) (int, error)

	// Close releases background resources.
	Close() error
}
