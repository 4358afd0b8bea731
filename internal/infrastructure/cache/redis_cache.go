package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of *redis.Client the view cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisViewCache stores views as JSON strings under keys suffixed with the
// current generation. InvalidateAll bumps the generation counter, which
// orphans every older key; orphans expire on their own TTL.
type RedisViewCache struct {
	client redisClient
}

func NewRedisViewCache(client *redis.Client) *RedisViewCache {
	return &RedisViewCache{client: client}
}

func (c *RedisViewCache) Get(ctx context.Context, key string, dst any) (int64, bool, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, fmt.Errorf("redis get %s: %w", generationKey, err)
	}

	val, err := c.client.Get(ctx, versioned(key, gen)).Result()
	if errors.Is(err, redis.Nil) {
		return gen, false, nil
	}
	if err != nil {
		return gen, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		return gen, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return gen, true, nil
}

func (c *RedisViewCache) Set(ctx context.Context, gen int64, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, versioned(key, gen), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisViewCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("redis incr %s: %w", generationKey, err)
	}
	return nil
}

func versioned(key string, gen int64) string {
	return key + "@" + strconv.FormatInt(gen, 10)
}

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}
