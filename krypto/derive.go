package krypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands a master secret into an independent 32 byte subkey
// bound to the given label. The same secret and label always produce the
// same subkey, and different labels produce unrelated keys, so a single
// configured master key can back several encryption contexts.
func DeriveKey(secret []byte, label string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret cannot be empty")
	}

	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}
