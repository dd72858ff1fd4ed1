// Package oauth implements the OAuth 2.0 authorization core of the ingest
// SDK: PKCE challenge minting, authorization URL construction, code
// exchange, token refresh, and revocation across multiple configured
// providers.
//
// Endpoints are resolved per provider at construction time, either from
// explicit configuration, from built-in defaults for well-known providers,
// or from an OIDC discovery document. Pending authorizations are tracked in
// a StateStore keyed by the opaque state parameter; entries expire after
// ten minutes and are removed on exchange or by a background sweeper.
//
// # Usage
//
//	svc, err := oauth.New(ctx, oauth.Config{
//	    Providers: map[string]oauth.ProviderConfig{
//	        "github": {
//	            ClientID:     "client-id",
//	            ClientSecret: "client-secret",
//	            RedirectURI:  "https://yourapp.com/callback/github",
//	            Scopes:       []string{"user", "repo"},
//	            UsePKCE:      true,
//	        },
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	// Send the user to the authorization URL.
//	authURL, err := svc.CreateAuthURL(ctx, "github", "user-1", nil)
//
//	// Complete the flow from the callback parameters.
//	tokens, err := svc.ExchangeCode(ctx, "github", code, state, redirectURI)
package oauth
