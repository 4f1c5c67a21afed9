package cache

import (
	"context"
	"sync"
	"time"

	"github.com/agencyhub/agencyhub/domains/sessions/be/service"
)

// MemoryCache is a process-local session cache for tests and single-node
// deployments without Redis.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	rec       service.Record
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, databaseName, tokenHash string) (service.Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key(databaseName, tokenHash)]
	if !ok {
		return service.Record{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key(databaseName, tokenHash))
		return service.Record{}, false, nil
	}
	return entry.rec, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, databaseName string, rec service.Record, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(databaseName, rec.TokenHash)] = memoryEntry{
		rec:       rec,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, databaseName, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(databaseName, tokenHash))
	return nil
}

// Len reports live entries; tests only.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var _ service.Cache = (*MemoryCache)(nil)
