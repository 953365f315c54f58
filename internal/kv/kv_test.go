package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for MemoryStore.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(config.RedisConfig{Endpoints: []string{mr.Addr()}})
	require.NoError(t, err)
	s := NewRedisStore(client, "lfp:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func newMemoryStore(t *testing.T, clock *fakeClock) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(1<<20, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeContract runs the behavior every Store must share. advance moves the
// store's notion of time forward.
func storeContract(t *testing.T, s Store, advance func(time.Duration)) {
	ctx := context.Background()

	t.Run("absent key", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
		v, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "1", v)
	})

	t.Run("overwrite refreshes ttl", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "b", "1", 10*time.Second))
		advance(8 * time.Second)
		require.NoError(t, s.Set(ctx, "b", "2", 10*time.Second))
		advance(8 * time.Second)

		v, ok, err := s.Get(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2", v)
	})

	t.Run("expires after ttl", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "c", "x", 5*time.Second))
		advance(6 * time.Second)
		_, ok, err := s.Get(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "d", "x", time.Minute))
		deleted, err := s.Delete(ctx, "d")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, ok, _ := s.Get(ctx, "d")
		assert.False(t, ok)

		deleted, err = s.Delete(ctx, "d")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestRedisStore(t *testing.T) {
	s, mr := newRedisStore(t)
	storeContract(t, s, mr.FastForward)

	t.Run("keys carry the prefix", func(t *testing.T) {
		require.NoError(t, s.Set(context.Background(), "k", "v", 0))
		got, err := mr.Get("lfp:k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("errors when redis is down", func(t *testing.T) {
		s2, mr2 := newRedisStore(t)
		mr2.Close()
		_, _, err := s2.Get(context.Background(), "k")
		assert.Error(t, err)
		assert.True(t, redis.IsConnectivityErr(err))
	})
}

func TestMemoryStore(t *testing.T) {
	clock := newFakeClock()
	storeContract(t, newMemoryStore(t, clock), clock.Advance)

	t.Run("negative ttl rejected", func(t *testing.T) {
		s := newMemoryStore(t, clock)
		assert.Error(t, s.Set(context.Background(), "k", "v", -time.Second))
	})
}

func TestNamespace(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	cache := Namespace(s, NamespaceCache)
	limits := Namespace(s, NamespaceRateLimit)

	require.NoError(t, cache.Set(ctx, "same", "cached", time.Minute))
	require.NoError(t, limits.Set(ctx, "same", "7", time.Minute))

	v, ok, err := cache.Get(ctx, "same")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cached", v)

	v, _, _ = limits.Get(ctx, "same")
	assert.Equal(t, "7", v)

	assert.True(t, mr.Exists("lfp:CACHE:same"))
	assert.True(t, mr.Exists("lfp:RATE_LIMIT:same"))

	deleted, err := cache.Delete(ctx, "same")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.True(t, mr.Exists("lfp:RATE_LIMIT:same"))

	require.NoError(t, cache.Close())
	assert.NoError(t, s.Ping(ctx), "closing a namespace leaves the store open")
}
