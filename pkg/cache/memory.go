package cache

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a process-local SecondLevel. Values are stored encoded so
// callers never share mutable state through the cache.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	regions map[Region]map[string]memoryEntry
}

// NewMemoryCache creates an empty cache. A ttl of zero keeps entries until
// they are evicted.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		regions: make(map[Region]map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, region Region, key string, dest any) (bool, error) {
	c.mu.RLock()
	entry, ok := c.regions[region][key]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if entry.expired(time.Now()) {
		c.mu.Lock()
		if current, still := c.regions[region][key]; still && current.expired(time.Now()) {
			delete(c.regions[region], key)
		}
		c.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryCache) Put(_ context.Context, region Region, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.regions[region]
	if !ok {
		entries = make(map[string]memoryEntry)
		c.regions[region] = entries
	}
	entries[key] = memoryEntry{data: data, expiresAt: expiresAt(c.ttl)}
	return nil
}

func (c *MemoryCache) Evict(_ context.Context, region Region, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.regions[region], key)
	return nil
}

func (c *MemoryCache) EvictRegion(_ context.Context, region Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.regions, region)
	return nil
}

func (c *MemoryCache) EvictAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions = make(map[Region]map[string]memoryEntry)
	return nil
}

// Len returns the number of entries in region, expired ones included.
func (c *MemoryCache) Len(region Region) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regions[region])
}
