package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// stateEntry pairs a challenge with its absolute deadline so the sweeper
// does not depend on the service TTL.
type stateEntry struct {
	challenge *PKCEChallenge
	expiresAt time.Time
}

// MemoryStateStore keeps pending authorizations in process memory. It is
// the default store; deployments whose callbacks may land on a different
// instance should use the redis store instead.
type MemoryStateStore struct {
	mu      sync.RWMutex
	entries map[string]stateEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStateStore creates a memory store whose sweeper removes expired
// entries at the given interval.
func NewMemoryStateStore(sweepInterval time.Duration) *MemoryStateStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	s := &MemoryStateStore{
		entries: make(map[string]stateEntry),
		stopCh:  make(chan struct{}),
	}
	go s.sweep(sweepInterval)
	return s
}

// Store saves a challenge under its state key.
func (s *MemoryStateStore) Store(ctx context.Context, state string, ch *PKCEChallenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state] = stateEntry{challenge: ch, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Retrieve returns the challenge for a state, or ErrStateNotFound.
func (s *MemoryStateStore) Retrieve(ctx context.Context, state string) (*PKCEChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	return entry.challenge, nil
}

// Delete removes a state entry.
func (s *MemoryStateStore) Delete(ctx context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, state)
	return nil
}

// Count returns the number of pending authorizations.
func (s *MemoryStateStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close stops the sweeper.
func (s *MemoryStateStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// sweep removes expired entries periodically.
func (s *MemoryStateStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for state, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, state)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// RedisStateStore keeps pending authorizations in redis so a callback may
// be completed by any instance. Entries are JSON documents expired by the
// backend; no sweeper is needed.
type RedisStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ownClient bool
}

// NewRedisStateStore connects to the given redis URL.
func NewRedisStateStore(ctx context.Context, url string) (*RedisStateStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStateStoreWithClient(client)
	s.ownClient = true
	return s, nil
}

// NewRedisStateStoreWithClient wraps a pre-configured client. Useful for
// tests and for sharing a connection pool with other components.
func NewRedisStateStoreWithClient(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{
		client:    client,
		keyPrefix: "ingest:state:",
	}
}

// Store saves a challenge under its state key with a backend TTL.
func (s *RedisStateStore) Store(ctx context.Context, state string, ch *PKCEChallenge, ttl time.Duration) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}
	return s.client.Set(ctx, s.keyPrefix+state, data, ttl).Err()
}

// Retrieve returns the challenge for a state, or ErrStateNotFound.
func (s *RedisStateStore) Retrieve(ctx context.Context, state string) (*PKCEChallenge, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	var ch PKCEChallenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &ch, nil
}

// Delete removes a state entry.
func (s *RedisStateStore) Delete(ctx context.Context, state string) error {
	return s.client.Del(ctx, s.keyPrefix+state).Err()
}

// Count returns the number of pending authorizations.
func (s *RedisStateStore) Count(ctx context.Context) (int, error) {
	var count int
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the client if this store opened it.
func (s *RedisStateStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
