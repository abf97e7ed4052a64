package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 500

// RedisCache is a SecondLevel shared by every engine instance. Keys are laid
// out as <prefix>:<region>:<key>.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an already connected client.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    ttl,
	}
}

func (c *RedisCache) key(region Region, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, region, key)
}

func (c *RedisCache) Get(ctx context.Context, region Region, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(region, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s/%s: %w", region, key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode %s/%s: %w", region, key, err)
	}
	return true, nil
}

func (c *RedisCache) Put(ctx context.Context, region Region, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s/%s: %w", region, key, err)
	}
	if err := c.client.Set(ctx, c.key(region, key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put %s/%s: %w", region, key, err)
	}
	return nil
}

func (c *RedisCache) Evict(ctx context.Context, region Region, key string) error {
	if err := c.client.Del(ctx, c.key(region, key)).Err(); err != nil {
		return fmt.Errorf("cache evict %s/%s: %w", region, key, err)
	}
	return nil
}

// EvictRegion deletes every key of the region. It walks the keyspace with
// SCAN so large regions do not block the server.
func (c *RedisCache) EvictRegion(ctx context.Context, region Region) error {
	pattern := c.key(region, "*")

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", region, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache evict region %s: %w", region, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *RedisCache) EvictAll(ctx context.Context) error {
	for _, region := range Regions {
		if err := c.EvictRegion(ctx, region); err != nil {
			return err
		}
	}
	return nil
}
