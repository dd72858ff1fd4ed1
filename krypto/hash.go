package krypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortHash returns the first 16 hex characters of the SHA-256 digest of s.
// It builds compact cache and storage keys from long identifiers such as
// feed URLs.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
