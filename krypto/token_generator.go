package krypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateSecureToken generates a secure random token of the specified byte
// length, hex encoded. The resulting string is twice the requested length
// and safe to embed in URLs, which makes it suitable for OAuth state values
// and opaque request identifiers.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid token length %d", length)
	}

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// GenerateURLSafeToken generates a secure random token of the specified byte
// length encoded with unpadded base64url. 32 bytes produce a 43 character
// string, the minimum length a PKCE code verifier allows.
func GenerateURLSafeToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid token length %d", length)
	}

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
