package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ppcxy/cyfm-engine/pkg/config"
)

// NewRedisClient creates a Redis client for the level-2 cache. Returns nil
// unless the redis backend is selected.
func NewRedisClient(ctx context.Context, cfg *config.CacheConfig) (*redis.Client, error) {
	if !strings.EqualFold(strings.TrimSpace(cfg.Backend), config.CacheBackendRedis) {
		return nil, nil
	}
	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("cache backend is redis but no redis host is configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.RedisHost), cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
