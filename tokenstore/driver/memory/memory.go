// Package memory provides an in-process token store backend, primarily
// for tests and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is a map-backed token store backend. Expired entries are dropped
// lazily on access.
type Store struct {
	mu    sync.RWMutex
	users map[string]map[string]entry
}

// New creates an empty memory backend.
func New() *Store {
	return &Store{users: make(map[string]map[string]entry)}
}

// Get returns the blob for a key, or nil when absent or past its TTL.
func (s *Store) Get(ctx context.Context, userID, provider string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.users[userID][provider]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.users[userID], provider)
		s.mu.Unlock()
		return nil, nil
	}
	return e.value, nil
}

// Set stores a blob with a TTL; ttl <= 0 means no backend expiry.
func (s *Store) Set(ctx context.Context, userID, provider string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[userID] == nil {
		s.users[userID] = make(map[string]entry)
	}
	s.users[userID][provider] = entry{value: value, expiresAt: expiresAt}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if providers, ok := s.users[userID]; ok {
		delete(providers, provider)
		if len(providers) == 0 {
			delete(s.users, userID)
		}
	}
	return nil
}

// List returns unexpired providers stored for a user.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	var providers []string
	for provider, e := range s.users[userID] {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.users[userID], provider)
			continue
		}
		providers = append(providers, provider)
	}
	return providers, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Name identifies the driver.
func (s *Store) Name() string {
	return "memory"
}
