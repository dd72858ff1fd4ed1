// Package tokenstore persists OAuth tokens per (user, provider) with
// at-rest encryption and TTL semantics keyed to token expiry. Storage is
// pluggable: in-process memory, redis, or a relational database.
package tokenstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/gobeaver/ingest/oauth"
)

// Defaults for the store semantics.
const (
	// DefaultExpiryBuffer is how long past expiry a token remains
	// retrievable for refresh flows.
	DefaultExpiryBuffer = 5 * time.Minute

	// DefaultTTL is the backend TTL applied to tokens without an expiry.
	DefaultTTL = 30 * 24 * time.Hour
)

// Config selects and configures the storage backend.
type Config struct {
	// Backend is one of memory, durable-kv (redis), relational (SQL).
	Backend string `env:"BACKEND,default:memory" json:"backend"`

	// URL is the backend connection string; required unless memory.
	URL string `env:"URL" json:"url"`

	// EncryptionKey is a 64-hex AES-256 key; required for durable backends.
	EncryptionKey string `env:"ENCRYPTION_KEY" json:"encryptionKey"`

	// ExpiredTokenBufferMinutes is the retrieval window past expiry.
	ExpiredTokenBufferMinutes int `env:"EXPIRED_TOKEN_BUFFER_MINUTES,default:5" json:"expiredTokenBufferMinutes"`

	// DefaultTTLDays is the backend TTL for tokens without expiry.
	DefaultTTLDays int `env:"DEFAULT_TTL_DAYS,default:30" json:"defaultTtlDays"`

	// SQLDriver picks the relational dialect (mysql, postgres, sqlite,
	// libsql); inferred from the URL when empty.
	SQLDriver string `env:"SQL_DRIVER" json:"sqlDriver"`

	// KeyPrefix namespaces durable-kv keys.
	KeyPrefix string `env:"KEY_PREFIX" json:"keyPrefix"`
}

// Store layers token semantics (expiry buffer, TTL computation, record
// metadata) over a Backend. Safe for concurrent use.
type Store struct {
	backend    Backend
	buffer     time.Duration
	defaultTTL time.Duration
}

// New builds a Store for the configured backend. Durable backends are
// wrapped with AES-256-GCM encryption.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "", "memory":
		backend, err = memoryRegister(cfg)
	case "durable-kv", "redis":
		backend, err = redisRegister(ctx, cfg)
	case "relational", "sql":
		backend, err = sqlRegister(ctx, cfg)
	default:
		return nil, ErrInvalidDriver
	}
	if err != nil {
		return nil, err
	}

	return NewWithBackend(backend, cfg), nil
}

// NewWithBackend builds a Store over a caller-supplied backend. The
// backend is used as-is; wrap it with NewEncryptedBackend for at-rest
// encryption.
func NewWithBackend(backend Backend, cfg Config) *Store {
	buffer := time.Duration(cfg.ExpiredTokenBufferMinutes) * time.Minute
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	defaultTTL := time.Duration(cfg.DefaultTTLDays) * 24 * time.Hour
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &Store{
		backend:    backend,
		buffer:     buffer,
		defaultTTL: defaultTTL,
	}
}

// Get returns the token for (userID, provider), or (nil, nil) when absent.
// Expired tokens return nil unless IncludeExpired is set, in which case
// they are returned while inside the expiry buffer. Beyond the buffer the
// record is deleted on access.
func (s *Store) Get(ctx context.Context, userID, provider string, opts ...GetOptions) (*oauth.TokenSet, error) {
	raw, err := s.backend.Get(ctx, userID, provider)
	if err != nil {
		return nil, storageErr("get", s.backend.Name(), err)
	}
	if raw == nil {
		return nil, nil
	}

	var rec StoredToken
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, storageErr("get", s.backend.Name(), err)
	}

	token := rec.Token
	if !token.HasExpiry() {
		return &token, nil
	}

	now := time.Now()
	if now.Before(token.ExpiresAt) {
		return &token, nil
	}

	// Past expiry. Beyond the buffer the record is useless even for
	// refresh; drop it.
	if now.Sub(token.ExpiresAt) > s.buffer {
		if err := s.backend.Delete(ctx, userID, provider); err != nil {
			return nil, storageErr("get", s.backend.Name(), err)
		}
		return nil, nil
	}

	includeExpired := len(opts) > 0 && opts[0].IncludeExpired
	if !includeExpired {
		return nil, nil
	}
	return &token, nil
}

// GetRecord returns the full stored record including metadata, applying
// the same expiry rules as Get with IncludeExpired.
func (s *Store) GetRecord(ctx context.Context, userID, provider string) (*StoredToken, error) {
	raw, err := s.backend.Get(ctx, userID, provider)
	if err != nil {
		return nil, storageErr("get", s.backend.Name(), err)
	}
	if raw == nil {
		return nil, nil
	}

	var rec StoredToken
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, storageErr("get", s.backend.Name(), err)
	}

	if rec.Token.HasExpiry() && time.Since(rec.Token.ExpiresAt) > s.buffer {
		if err := s.backend.Delete(ctx, userID, provider); err != nil {
			return nil, storageErr("get", s.backend.Name(), err)
		}
		return nil, nil
	}
	return &rec, nil
}

// Set stores a token, replacing any existing record.
func (s *Store) Set(ctx context.Context, userID, provider string, token *oauth.TokenSet) error {
	now := time.Now()
	rec := StoredToken{
		UserID:    userID,
		Provider:  provider,
		Token:     *token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.write(ctx, "set", &rec)
}

// Update overwrites the token for an existing grant, preserving the
// original CreatedAt and metadata when a record is present.
func (s *Store) Update(ctx context.Context, userID, provider string, token *oauth.TokenSet) error {
	now := time.Now()
	rec := StoredToken{
		UserID:    userID,
		Provider:  provider,
		Token:     *token,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if raw, err := s.backend.Get(ctx, userID, provider); err == nil && raw != nil {
		var prev StoredToken
		if err := json.Unmarshal(raw, &prev); err == nil && !prev.CreatedAt.IsZero() {
			rec.CreatedAt = prev.CreatedAt
			rec.Metadata = prev.Metadata
		}
	}

	return s.write(ctx, "update", &rec)
}

// Delete removes the record for (userID, provider).
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	if err := s.backend.Delete(ctx, userID, provider); err != nil {
		return storageErr("delete", s.backend.Name(), err)
	}
	return nil
}

// List returns the providers with stored tokens for a user, sorted.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	providers, err := s.backend.List(ctx, userID)
	if err != nil {
		return nil, storageErr("list", s.backend.Name(), err)
	}
	sort.Strings(providers)
	return providers, nil
}

// Ping checks backend reachability for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// BackendName identifies the active driver.
func (s *Store) BackendName() string {
	return s.backend.Name()
}

func (s *Store) write(ctx context.Context, op string, rec *StoredToken) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return storageErr(op, s.backend.Name(), err)
	}

	if err := s.backend.Set(ctx, rec.UserID, rec.Provider, data, s.ttlFor(&rec.Token)); err != nil {
		return storageErr(op, s.backend.Name(), err)
	}
	return nil
}

// ttlFor computes the backend TTL: expiry plus the buffer, or the default
// when the token never expires.
func (s *Store) ttlFor(token *oauth.TokenSet) time.Duration {
	if !token.HasExpiry() {
		return s.defaultTTL
	}

	ttl := time.Until(token.ExpiresAt) + s.buffer
	if ttl <= 0 {
		ttl = s.buffer
	}
	return ttl
}
