package cache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backend pairs a Store with a way to move its notion of time forward.
type backend struct {
	store   Store
	advance func(time.Duration)
}

func backends(t *testing.T) map[string]backend {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	return map[string]backend{
		"redis":  {store: NewRedisStoreWithClient(client, "test:"), advance: mr.FastForward},
		"memory": {store: NewMemoryStoreWithClock(clock.Now), advance: clock.Advance},
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	t.Parallel()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := b.store.Get(ctx, "k")
			require.ErrorIs(t, err, ErrMiss)

			require.NoError(t, b.store.Set(ctx, "k", []byte("v"), time.Minute))
			got, err := b.store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			ok, err := b.store.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, b.store.Delete(ctx, "k", "missing"))
			_, err = b.store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrMiss)
		})
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.store.Set(ctx, "flag", []byte("1"), 5*time.Minute))

			b.advance(4 * time.Minute)
			ok, err := b.store.Exists(ctx, "flag")
			require.NoError(t, err)
			assert.True(t, ok)

			b.advance(2 * time.Minute)
			ok, err = b.store.Exists(ctx, "flag")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_Sets(t *testing.T) {
	t.Parallel()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			members, err := b.store.SetMembers(ctx, "idx")
			require.NoError(t, err)
			assert.Empty(t, members)

			require.NoError(t, b.store.AddToSet(ctx, "idx", "a", time.Hour))
			require.NoError(t, b.store.AddToSet(ctx, "idx", "b", time.Hour))
			require.NoError(t, b.store.AddToSet(ctx, "idx", "a", time.Hour))

			members, err = b.store.SetMembers(ctx, "idx")
			require.NoError(t, err)
			sort.Strings(members)
			assert.Equal(t, []string{"a", "b"}, members)

			require.NoError(t, b.store.RemoveFromSet(ctx, "idx", "a"))
			members, err = b.store.SetMembers(ctx, "idx")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, members)

			b.advance(2 * time.Hour)
			members, err = b.store.SetMembers(ctx, "idx")
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	}
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := NewRedisStoreWithClient(client, "passport:")
	require.NoError(t, st.Set(context.Background(), "session:1", []byte("x"), time.Minute))
	assert.True(t, mr.Exists("passport:session:1"))
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)

	_, err = NewRedisStore(context.Background(), RedisConfig{})
	require.Error(t, err)
}
