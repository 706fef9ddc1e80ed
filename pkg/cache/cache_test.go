package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCache_InMemory(t *testing.T) {
	c := New[record]("test:", time.Hour)
	assert.False(t, c.HasRedis())

	c.Set("a", record{Status: "completed", Count: 1}, 0)
	assert.Equal(t, 1, c.Size())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "completed", v.Status)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestCache_Expiration(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[record]("test:", time.Minute)
	c.now = func() time.Time { return now }

	c.Set("short", record{Count: 1}, time.Second)
	c.Set("long", record{Count: 2}, 0)

	now = now.Add(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)

	assert.Equal(t, 1, c.RemoveExpired())
	assert.Equal(t, 1, c.Size())

	now = now.Add(time.Minute)
	assert.Equal(t, 1, c.RemoveExpired())
	assert.Equal(t, 0, c.Size())
}

func TestCache_WithRedis(t *testing.T) {
	mr, client := newRedisClient(t)
	c := New[record]("tasks:result:", time.Hour).WithRedis(client)
	assert.True(t, c.HasRedis())

	c.Set("t1", record{Status: "failed", Count: 3}, 0)
	assert.True(t, mr.Exists("tasks:result:t1"))
	assert.Equal(t, time.Hour, mr.TTL("tasks:result:t1"))

	// a fresh cache sharing the Redis instance sees the entry
	other := New[record]("tasks:result:", time.Hour).WithRedis(client)
	v, ok := other.Get("t1")
	require.True(t, ok)
	assert.Equal(t, record{Status: "failed", Count: 3}, v)

	c.Delete("t1")
	assert.False(t, mr.Exists("tasks:result:t1"))
}

func TestCache_RedisFallback(t *testing.T) {
	mr, client := newRedisClient(t)
	c := New[record]("test:", time.Hour).WithRedis(client)

	c.Set("a", record{Count: 7}, 0)
	mr.Close()

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 7, v.Count)
}

func TestCache_CorruptRedisEntry(t *testing.T) {
	mr, client := newRedisClient(t)
	c := New[record]("test:", time.Hour).WithRedis(client)

	require.NoError(t, mr.Set("test:bad", "{not json"))
	_, ok := c.Get("bad")
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:bad"))
}

func TestCache_ClearOnlyTouchesPrefix(t *testing.T) {
	mr, client := newRedisClient(t)
	c := New[record]("test:", time.Hour).WithRedis(client)

	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, record{}, 0)
	}
	require.NoError(t, mr.Set("unrelated", "keep"))

	c.Clear()

	assert.Equal(t, 0, c.Size())
	assert.False(t, mr.Exists("test:a"))
	assert.True(t, mr.Exists("unrelated"))
}
