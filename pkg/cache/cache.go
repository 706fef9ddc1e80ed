// Package cache provides a TTL cache kept in memory and, optionally, mirrored
// to Redis so entries survive process restarts.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultTTL is used when Set is called with a zero TTL
	DefaultTTL = 1 * time.Hour

	redisTimeout      = 2 * time.Second
	redisClearTimeout = 10 * time.Second
)

// Cache is a TTL cache of T values. Memory is always written; Redis is the
// primary read path when configured. Values mirrored to Redis round-trip
// through JSON.
//
// Redis key format: {prefix}{key}
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]item[T]

	redisClient *redis.Client
	prefix      string
	ttl         time.Duration
	now         func() time.Time
}

type item[T any] struct {
	value     T
	expiresAt time.Time
}

// New creates an in-memory cache. prefix namespaces the Redis keys.
func New[T any](prefix string, ttl time.Duration) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[T]{
		items:  make(map[string]item[T]),
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithRedis mirrors entries to Redis. Returns the cache for chaining.
func (c *Cache[T]) WithRedis(client *redis.Client) *Cache[T] {
	c.redisClient = client
	return c
}

// HasRedis reports whether Redis is configured
func (c *Cache[T]) HasRedis() bool {
	return c.redisClient != nil
}

// Get returns the value for key, trying Redis first and then memory.
func (c *Cache[T]) Get(key string) (T, bool) {
	if c.redisClient != nil {
		if v, ok := c.getFromRedis(key); ok {
			return v, true
		}
	}
	return c.getFromMemory(key)
}

func (c *Cache[T]) getFromRedis(key string) (T, bool) {
	var zero T
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	data, err := c.redisClient.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		// corrupted entry
		_ = c.redisClient.Del(ctx, c.prefix+key)
		return zero, false
	}
	return v, true
}

func (c *Cache[T]) getFromMemory(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	it, ok := c.items[key]
	if !ok || c.now().After(it.expiresAt) {
		return zero, false
	}
	return it.value, true
}

// Set stores value under key. A zero ttl uses the cache default.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	if c.redisClient != nil {
		c.setInRedis(key, value, ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[T]{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Cache[T]) setInRedis(key string, value T, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	// memory is the fallback
	_ = c.redisClient.Set(ctx, c.prefix+key, data, ttl).Err()
}

// Delete removes key from Redis and memory
func (c *Cache[T]) Delete(key string) {
	if c.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
		defer cancel()
		_ = c.redisClient.Del(ctx, c.prefix+key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry, including the Redis keys under the prefix. It
// implements resource.Clearable.
func (c *Cache[T]) Clear() {
	if c.redisClient != nil {
		c.clearRedis()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item[T])
}

func (c *Cache[T]) clearRedis() {
	ctx, cancel := context.WithTimeout(context.Background(), redisClearTimeout)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := c.redisClient.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			_ = c.redisClient.Del(ctx, keys...).Err()
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// RemoveExpired evicts expired in-memory entries and returns how many were
// removed. Redis expires its keys on its own.
func (c *Cache[T]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, it := range c.items {
		if now.After(it.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of in-memory entries, expired ones included.
func (c *Cache[T]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
