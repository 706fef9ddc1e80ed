// Package lock provides a Redis lease so that only one replica runs a shared
// housekeeping job at a time.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loadwarden/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultTTL     = 30 * time.Second
	acquireTimeout = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker guards a section across replicas.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisLock is a SET NX lease. A nil client degrades to a local lock that is
// always acquired.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	mu   sync.Mutex
	held bool
}

// NewRedisLock creates a lock on key with the given lease. ttl <= 0 uses 30s.
// The lease is not renewed; guarded work must finish within it.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Key returns the Redis key of the lock
func (l *RedisLock) Key() string {
	return l.key
}

// TryLock attempts to take the lease without waiting.
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client == nil {
		l.held = true
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	ok, err := l.client.SetNX(acquireCtx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.held = ok
	if !ok {
		logger.DebugCtx(ctx, "lock %s held by another instance", l.key)
	}
	return ok, nil
}

// Unlock releases the lease if this instance still owns it.
func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false
	if l.client == nil {
		return nil
	}

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		logger.WarnCtx(ctx, "lock %s expired before release", l.key)
	}
	return nil
}

// IsHeld reports whether this instance believes it holds the lease.
func (l *RedisLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
