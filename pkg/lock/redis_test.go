package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	l := NewRedisLock(client, "loadwarden:lock:test", time.Minute)

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l.IsHeld())

	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.IsHeld())

	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock can be re-acquired after release")
}

func TestRedisLock_ExcludesOtherInstances(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	a := NewRedisLock(client, "loadwarden:lock:shared", time.Minute)
	b := NewRedisLock(client, "loadwarden:lock:shared", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, b.IsHeld())

	// b does not own the key, so its Unlock must not free a's lease.
	require.NoError(t, b.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiredLeaseIsNotDeleted(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()
	a := NewRedisLock(client, "loadwarden:lock:ttl", time.Second)
	b := NewRedisLock(client, "loadwarden:lock:ttl", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Unlock(ctx))
	assert.True(t, mr.Exists("loadwarden:lock:ttl"), "stale owner must not release the new lease")
}

func TestRedisLock_NilClientIsLocal(t *testing.T) {
	ctx := context.Background()
	l := NewRedisLock(nil, "loadwarden:lock:local", 0)

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.IsHeld())
}

func TestRedisLock_UnreachableServer(t *testing.T) {
	mr, client := newClient(t)
	mr.Close()

	ok, err := NewRedisLock(client, "loadwarden:lock:down", time.Minute).TryLock(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
