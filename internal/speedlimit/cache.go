package speedlimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores upstream response bodies keyed by rounded coordinates.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

// keyFor rounds to 4 decimals (about 11 m), so nearby lookups share an entry.
func keyFor(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// MemoryCache is a tiny in-process cache with per-entry expiry.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	body    []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.body, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, body []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.store[key] = cacheEntry{body: append([]byte(nil), body...), expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// RedisCache shares cached lookups between server replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "speedlimit:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, body, ttl).Err()
}
