package ingest

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotInitialized indicates a package-level call before Init.
	ErrNotInitialized = errors.New("ingest sdk not initialized, call Init first")

	// ErrProviderNotConfigured indicates a provider with no registered
	// connector.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// ConfigError reports a configuration field that failed validation.
type ConfigError struct {
	// Field is the offending field in config-file notation, e.g.
	// "tokenStore.url" or "providers.github.clientId".
	Field string

	// Reason describes the violated constraint.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}
