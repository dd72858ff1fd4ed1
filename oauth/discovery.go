package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxDiscoveryResponseSize bounds the discovery document read to protect
// against misbehaving servers.
const maxDiscoveryResponseSize = 1024 * 1024

// discoveryDocument is the subset of the OIDC discovery metadata the
// service consumes.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`
}

// Discover fetches the OIDC discovery document for an issuer and returns
// the endpoints it advertises. The issuer in the document must match the
// requested issuer exactly.
func Discover(ctx context.Context, client *http.Client, issuer string) (Endpoints, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	wellKnownURL, err := buildWellKnownURL(issuer)
	if err != nil {
		return Endpoints{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Endpoints{}, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Endpoints{}, fmt.Errorf("discovery request returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return Endpoints{}, fmt.Errorf("discovery response has unexpected content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryResponseSize))
	if err != nil {
		return Endpoints{}, fmt.Errorf("failed to read discovery response: %w", err)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return Endpoints{}, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	if doc.Issuer != strings.TrimSuffix(issuer, "/") && doc.Issuer != issuer {
		return Endpoints{}, fmt.Errorf("discovery document issuer %q does not match %q", doc.Issuer, issuer)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return Endpoints{}, fmt.Errorf("discovery document for %q is missing required endpoints", issuer)
	}

	return Endpoints{
		Authorization: doc.AuthorizationEndpoint,
		Token:         doc.TokenEndpoint,
		Revocation:    doc.RevocationEndpoint,
		Issuer:        doc.Issuer,
	}, nil
}

// buildWellKnownURL validates the issuer and appends the discovery path.
// Plain HTTP is allowed only for loopback issuers used in tests.
func buildWellKnownURL(issuer string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return "", fmt.Errorf("issuer %q must use HTTPS", issuer)
		}
	default:
		return "", fmt.Errorf("issuer %q must use HTTPS", issuer)
	}

	return strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration", nil
}
