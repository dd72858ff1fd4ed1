package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/gobeaver/ingest/krypto"
)

// EncryptedBackend wraps a Backend with AES-256-GCM encryption so raw
// token material never reaches durable storage.
type EncryptedBackend struct {
	inner Backend
	enc   krypto.Encryptor
}

// NewEncryptedBackend wraps a backend with an encryptor.
func NewEncryptedBackend(inner Backend, enc krypto.Encryptor) *EncryptedBackend {
	return &EncryptedBackend{inner: inner, enc: enc}
}

// Get retrieves and decrypts a blob.
func (b *EncryptedBackend) Get(ctx context.Context, userID, provider string) ([]byte, error) {
	ciphertext, err := b.inner.Get(ctx, userID, provider)
	if err != nil || ciphertext == nil {
		return nil, err
	}

	plaintext, err := b.enc.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt stored token: %w", err)
	}
	return plaintext, nil
}

// Set encrypts and stores a blob.
func (b *EncryptedBackend) Set(ctx context.Context, userID, provider string, value []byte, ttl time.Duration) error {
	ciphertext, err := b.enc.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}
	return b.inner.Set(ctx, userID, provider, ciphertext, ttl)
}

// Delete removes a key.
func (b *EncryptedBackend) Delete(ctx context.Context, userID, provider string) error {
	return b.inner.Delete(ctx, userID, provider)
}

// List returns the providers stored for a user.
func (b *EncryptedBackend) List(ctx context.Context, userID string) ([]string, error) {
	return b.inner.List(ctx, userID)
}

// Ping checks the underlying backend.
func (b *EncryptedBackend) Ping(ctx context.Context) error {
	return b.inner.Ping(ctx)
}

// Close closes the underlying backend.
func (b *EncryptedBackend) Close() error {
	return b.inner.Close()
}

// Name identifies the underlying driver.
func (b *EncryptedBackend) Name() string {
	return b.inner.Name()
}
