package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryViewCache is the single-process ViewCache used when Redis is not
// configured. Values are stored encoded so callers never share memory with
// the cache.
type MemoryViewCache struct {
	mu   sync.RWMutex
	gen  int64
	data map[string]memoryEntry
	now  func() time.Time
}

func NewMemoryViewCache() *MemoryViewCache {
	return &MemoryViewCache{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
}

func (c *MemoryViewCache) Get(ctx context.Context, key string, dst any) (int64, bool, error) {
	c.mu.RLock()
	gen := c.gen
	entry, ok := c.data[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expires) {
		return gen, false, nil
	}
	if err := json.Unmarshal(entry.data, dst); err != nil {
		return gen, false, err
	}
	return gen, true, nil
}

// Set drops the value when gen is no longer current.
func (c *MemoryViewCache) Set(ctx context.Context, gen int64, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.data[key] = memoryEntry{data: data, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryViewCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.data = make(map[string]memoryEntry)
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryViewCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
