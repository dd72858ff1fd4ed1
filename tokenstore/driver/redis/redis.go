// Package redis provides a redis-backed token store backend for
// deployments where callbacks and fetches land on different instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "ingest:token:"

// Config holds redis backend settings.
type Config struct {
	// URL is a redis connection URL (redis:// or rediss://).
	URL string

	// KeyPrefix namespaces all keys. Defaults to "ingest:token:".
	KeyPrefix string
}

// Store is a redis token store backend. Entry TTLs are enforced by the
// backend itself.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ownClient bool
}

// New connects to redis using the config URL and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewWithClient(client, cfg.KeyPrefix)
	s.ownClient = true
	return s, nil
}

// NewWithClient wraps a pre-configured client. Useful for tests and for
// sharing a connection pool.
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) key(userID, provider string) string {
	return s.keyPrefix + userID + ":" + provider
}

// Get returns the blob for a key, or nil when absent.
func (s *Store) Get(ctx context.Context, userID, provider string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(userID, provider)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Set stores a blob; ttl <= 0 stores without backend expiry.
func (s *Store) Set(ctx context.Context, userID, provider string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.key(userID, provider), value, ttl).Err()
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	return s.client.Del(ctx, s.key(userID, provider)).Err()
}

// List returns the providers stored for a user.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	prefix := s.keyPrefix + userID + ":"

	var providers []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		providers = append(providers, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return providers, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if this backend opened it.
func (s *Store) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

// Name identifies the driver.
func (s *Store) Name() string {
	return "redis"
}
