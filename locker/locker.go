// Package locker provides a best-effort distributed lock that serializes
// token refreshes across instances. Without a redis URL it degrades to
// local-only mode where every acquisition succeeds, leaving dedup to the
// in-process single-flight.
package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gobeaver/ingest/krypto"
)

// Defaults for lock behavior.
const (
	// DefaultTTL caps how long a crashed holder can block others.
	DefaultTTL = 30 * time.Second

	// DefaultWaitTimeout bounds WaitForRelease when no timeout is given.
	DefaultWaitTimeout = 30 * time.Second
)

// Common errors
var (
	// ErrLockWaitTimeout indicates the lock was not released in time.
	ErrLockWaitTimeout = errors.New("timed out waiting for lock release")

	// ErrNotHeld indicates a release attempt for a lock this instance
	// does not hold.
	ErrNotHeld = errors.New("lock not held by this instance")
)

// Modes reported by Health.
const (
	ModeDistributed = "distributed"
	ModeLocalOnly   = "local-only"
)

// Config configures the lock service.
type Config struct {
	// URL is the redis connection URL; empty selects local-only mode.
	URL string `env:"URL" json:"url"`

	// TTL overrides DefaultTTL.
	TTL time.Duration `json:"ttl"`

	// KeyPrefix namespaces lock keys. Defaults to "ingest:refresh:".
	KeyPrefix string `env:"KEY_PREFIX" json:"keyPrefix"`
}

// Health describes lock service status for the SDK health surface.
type Health struct {
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
	Healthy   bool   `json:"healthy"`
}

// releaseScript deletes the key only when the holder matches, so a lock
// that expired and was grabbed by another instance is never released by
// the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a per-(user, provider) refresh lock. Safe for concurrent use.
type Locker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	holder    string
	ownClient bool
}

// New builds a Locker. An empty URL yields local-only mode; otherwise the
// connection is verified before returning.
func New(ctx context.Context, cfg Config) (*Locker, error) {
	if cfg.URL == "" {
		return newLocker(nil, cfg)
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid lock URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to lock backend: %w", err)
	}

	l, err := newLocker(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	l.ownClient = true
	return l, nil
}

// NewWithClient wraps a pre-configured client; nil selects local-only
// mode. Useful for tests and shared connection pools.
func NewWithClient(client redis.UniversalClient, cfg Config) (*Locker, error) {
	return newLocker(client, cfg)
}

func newLocker(client redis.UniversalClient, cfg Config) (*Locker, error) {
	holder, err := krypto.GenerateSecureToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock holder token: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "ingest:refresh:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		holder:    holder,
	}, nil
}

func (l *Locker) key(userID, provider string) string {
	return l.keyPrefix + userID + ":" + provider
}

// TryAcquire attempts to take the refresh lock for (userID, provider).
// In local-only mode it always succeeds.
func (l *Locker) TryAcquire(ctx context.Context, userID, provider string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, l.key(userID, provider), l.holder, l.ttl).Result()
}

// Release frees the lock. Releasing a lock held by another instance (or
// one that already expired and changed hands) returns ErrNotHeld.
func (l *Locker) Release(ctx context.Context, userID, provider string) error {
	if l.client == nil {
		return nil
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key(userID, provider)}, l.holder).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

// WaitForRelease blocks until the lock disappears, polling with backoff
// from 100ms up to 1s. A non-positive timeout uses DefaultWaitTimeout.
func (l *Locker) WaitForRelease(ctx context.Context, userID, provider string, timeout time.Duration) error {
	if l.client == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	deadline := time.Now().Add(timeout)
	delay := 100 * time.Millisecond
	key := l.key(userID, provider)

	for {
		exists, err := l.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to poll lock: %w", err)
		}
		if exists == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrLockWaitTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > time.Second {
			delay = time.Second
		}
	}
}

// Health reports lock service status. Local-only mode is healthy by
// definition; distributed mode requires a live connection.
func (l *Locker) Health(ctx context.Context) Health {
	if l.client == nil {
		return Health{Connected: false, Mode: ModeLocalOnly, Healthy: true}
	}

	err := l.client.Ping(ctx).Err()
	return Health{
		Connected: err == nil,
		Mode:      ModeDistributed,
		Healthy:   err == nil,
	}
}

// Distributed reports whether a lock backend is configured.
func (l *Locker) Distributed() bool {
	return l.client != nil
}

// Close closes the client if this locker opened it.
func (l *Locker) Close() error {
	if l.ownClient {
		return l.client.Close()
	}
	return nil
}
