package attest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryCache implements the Cache interface using an in-memory map with TTL.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Attestation
	now     func() time.Time
}

// NewMemoryCache creates a new in-memory attestation cache.
func NewMemoryCache() Cache {
	return newMemoryCache(time.Now)
}

func newMemoryCache(now func() time.Time) *memoryCache {
	return &memoryCache{
		entries: make(map[string]*Attestation),
		now:     now,
	}
}

// Get retrieves a cached attestation by key.
// Returns nil if the entry is not found or has expired.
func (c *memoryCache) Get(_ context.Context, key string) (*Attestation, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if c.now().After(entry.ExpiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}

	return entry, nil
}

// Set stores an attestation until its ExpiresAt.
func (c *memoryCache) Set(_ context.Context, attestation *Attestation) error {
	if attestation == nil {
		return fmt.Errorf("attestation is nil")
	}

	c.mu.Lock()
	c.entries[attestation.Key] = attestation
	c.mu.Unlock()

	return nil
}

// Delete removes a cached attestation by key.
func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	return nil
}
