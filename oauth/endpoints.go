package oauth

// Built-in endpoint defaults for well-known providers. A ProviderConfig
// that names one of these providers may omit its endpoints entirely;
// explicit endpoints and discovery documents always win over defaults.

var builtinEndpoints = map[string]Endpoints{
	"github": {
		Authorization: "https://github.com/login/oauth/authorize",
		Token:         "https://github.com/login/oauth/access_token",
	},
	"google": {
		Authorization: "https://accounts.google.com/o/oauth2/v2/auth",
		Token:         "https://oauth2.googleapis.com/token",
		Revocation:    "https://oauth2.googleapis.com/revoke",
		Issuer:        "https://accounts.google.com",
	},
	"reddit": {
		Authorization: "https://www.reddit.com/api/v1/authorize",
		Token:         "https://www.reddit.com/api/v1/access_token",
		Revocation:    "https://www.reddit.com/api/v1/revoke_token",
	},
	"twitter": {
		Authorization: "https://twitter.com/i/oauth2/authorize",
		Token:         "https://api.twitter.com/2/oauth2/token",
		Revocation:    "https://api.twitter.com/2/oauth2/revoke",
	},
}

// basicAuthProviders lists providers whose token endpoints require HTTP
// Basic client authentication regardless of configuration.
var basicAuthProviders = map[string]bool{
	"reddit":  true,
	"twitter": true,
}

// DefaultEndpoints returns the built-in endpoints for a provider name,
// if any.
func DefaultEndpoints(provider string) (Endpoints, bool) {
	ep, ok := builtinEndpoints[provider]
	return ep, ok
}

// resolveAuthMethod picks the client authentication method for a provider,
// honoring per-provider requirements over configuration.
func resolveAuthMethod(provider string, cfg ProviderConfig) string {
	if basicAuthProviders[provider] {
		return AuthMethodBasic
	}
	if cfg.AuthMethod != "" {
		return cfg.AuthMethod
	}
	return AuthMethodPost
}
