package connector

import "errors"

var (
	// ErrTokenNotFound indicates the user never connected the provider,
	// or the stored token aged out past the expiry buffer.
	ErrTokenNotFound = errors.New("no stored token")

	// ErrTokenExpired indicates the refresh token was rejected as
	// invalid_grant; the user must re-authenticate.
	ErrTokenExpired = errors.New("token expired, re-authentication required")

	// ErrInvalidCallback indicates the OAuth callback was missing its
	// code or state parameter.
	ErrInvalidCallback = errors.New("callback missing code or state")

	// ErrNoAuthFlow indicates the connector has no OAuth flow to run
	// (public feeds).
	ErrNoAuthFlow = errors.New("connector has no authorization flow")
)
