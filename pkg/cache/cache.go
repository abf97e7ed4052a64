// Package cache holds the two cache levels sitting in front of the
// repositories: a per-request identity map (level 1) and a shared region
// cache (level 2) backed by memory or Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppcxy/cyfm-engine/pkg/config"
)

// Region partitions the level-2 cache.
type Region string

const (
	RegionEntity       Region = "entity"
	RegionCollection   Region = "collection"
	RegionDefaultQuery Region = "default_query"
	RegionQuery        Region = "query"
	RegionNaturalID    Region = "natural_id"
)

// Regions lists every level-2 region in the order they are evicted.
var Regions = []Region{
	RegionEntity,
	RegionCollection,
	RegionDefaultQuery,
	RegionQuery,
	RegionNaturalID,
}

func (r Region) String() string {
	return string(r)
}

// SecondLevel is the shared cache. Values are stored encoded, so Get decodes
// into dest the same way json.Unmarshal would. Get reports false on a miss.
type SecondLevel interface {
	Get(ctx context.Context, region Region, key string, dest any) (bool, error)
	Put(ctx context.Context, region Region, key string, value any) error
	Evict(ctx context.Context, region Region, key string) error
	EvictRegion(ctx context.Context, region Region) error
	EvictAll(ctx context.Context) error
}

// New builds the level-2 cache selected by cfg.Backend. client is only used
// by the redis backend and must be non-nil for it.
func New(cfg config.CacheConfig, client redis.UniversalClient) (SecondLevel, error) {
	switch cfg.Backend {
	case config.CacheBackendMemory, "":
		return NewMemoryCache(cfg.TTL()), nil
	case config.CacheBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("cache backend %q requires a redis client", cfg.Backend)
		}
		return NewRedisCache(client, cfg.KeyPrefix, cfg.TTL()), nil
	case config.CacheBackendNone:
		return NopCache{}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, Region, string, any) (bool, error) { return false, nil }
func (NopCache) Put(context.Context, Region, string, any) error         { return nil }
func (NopCache) Evict(context.Context, Region, string) error            { return nil }
func (NopCache) EvictRegion(context.Context, Region) error              { return nil }
func (NopCache) EvictAll(context.Context) error                         { return nil }

func expiresAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

var (
	_ SecondLevel = NopCache{}
	_ SecondLevel = (*MemoryCache)(nil)
	_ SecondLevel = (*RedisCache)(nil)
)
