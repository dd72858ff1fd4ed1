package oauth

import (
	"errors"
	"fmt"
)

// Package-level errors
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid oauth configuration")

	// ErrProviderNotFound indicates the requested provider is not configured.
	ErrProviderNotFound = errors.New("oauth provider not found")

	// ErrStateNotFound indicates no pending authorization for the state.
	ErrStateNotFound = errors.New("state not found")

	// ErrStateExpired indicates the pending authorization outlived its TTL.
	ErrStateExpired = errors.New("state expired")

	// ErrAccessDenied indicates the end user denied the authorization.
	ErrAccessDenied = errors.New("access denied by user")

	// ErrNonceMismatch indicates the ID token nonce did not match the one
	// minted for this authorization.
	ErrNonceMismatch = errors.New("id token nonce mismatch")

	// ErrNoRevocationEndpoint indicates the provider has no revocation
	// endpoint configured.
	ErrNoRevocationEndpoint = errors.New("no revocation endpoint")
)

// Error is a detailed OAuth protocol error carrying the upstream error
// code from the provider's response.
type Error struct {
	Provider    string // provider where the error occurred
	Code        string // OAuth error code, e.g. "invalid_request"
	Description string // human-readable description from the provider
	URI         string // optional URI with error details
	Err         error  // underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error [%s]: %s (%s)", e.Provider, e.Description, e.Code)
	}
	if e.Code != "" {
		return fmt.Sprintf("oauth error [%s]: %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("oauth error [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ParseError maps a provider error response onto an Error, attaching the
// matching sentinel for well-known codes.
func ParseError(provider, code, description, uri string) *Error {
	e := &Error{
		Provider:    provider,
		Code:        code,
		Description: description,
		URI:         uri,
	}

	switch code {
	case "access_denied":
		e.Err = ErrAccessDenied
	}

	return e
}

// RefreshError reports a failed refresh_token grant. Code carries the
// upstream OAuth error code so callers can distinguish permanent failures
// (invalid_grant) from transient ones.
type RefreshError struct {
	Provider string
	Code     string
	Err      error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token refresh failed [%s]: %s", e.Provider, e.Code)
	}
	return fmt.Sprintf("token refresh failed [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether the refresh failure requires the user to
// reconnect (the refresh token itself was rejected).
func (e *RefreshError) IsPermanent() bool {
	return e.Code == "invalid_grant"
}
