package permcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// invalidateScript deletes every key listed in the set, then the set.
// Member keys share the set's hash tag, so they live in the same cluster slot.
var invalidateScript = redis.NewScript(`
local keys = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, key in ipairs(keys) do
	removed = removed + redis.call('DEL', key)
end
redis.call('DEL', KEYS[1])
return removed
`)

// RedisCache is a Cache shared by every replica through redis
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache creates a cache on top of client. The cache owns the client
// and closes it on Close.
func NewRedisCache(client redis.UniversalClient, config Config) *RedisCache {
	config = config.withDefaults()
	return &RedisCache{
		client: client,
		ttl:    config.TTL,
	}
}

// Get retrieves a cached value
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Set writes the value and updates the user's key set in one MULTI/EXEC
func (c *RedisCache) Set(ctx context.Context, userID int64, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	setKey := UserKeySetKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, c.ttl)
		pipe.SAdd(ctx, setKey, key)
		pipe.Expire(ctx, setKey, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// InvalidateUser removes the user's entries and key set atomically
func (c *RedisCache) InvalidateUser(ctx context.Context, userID int64) (int, error) {
	removed, err := invalidateScript.Run(ctx, c.client, []string{UserKeySetKey(userID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("redis invalidate failed: %w", err)
	}
	return removed, nil
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
