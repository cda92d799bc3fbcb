package sessionx

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps session values in process memory.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) {
	s.c.Set(key, value, cache.NoExpiration)
}

// Remove deletes key.
func (s *MemoryStore) Remove(_ context.Context, key string) {
	s.c.Delete(key)
}

// Clear deletes every key.
func (s *MemoryStore) Clear(_ context.Context) {
	s.c.Flush()
}
