package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return s, rdb
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	_, rdb := newRedis(t)
	l := NewRedisLocker(rdb)
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "sync:s", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "sync:s", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	// other keys are independent
	r2, ok, err := l.TryAcquire(ctx, "sync:other", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	r2()

	release()
	r3, ok, err := l.TryAcquire(ctx, "sync:s", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	r3()
}

func TestRedisLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	s, rdb := newRedis(t)
	l := NewRedisLocker(rdb)
	ctx := context.Background()

	oldRelease, ok, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Second)

	_, ok, err = l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock should be acquirable")

	oldRelease()
	assert.True(t, s.Exists("lock:k"), "stale release must not drop the new holder's lock")
}

func TestRedisLocker_Unavailable(t *testing.T) {
	s, rdb := newRedis(t)
	s.Close()
	_, ok, err := NewRedisLocker(rdb).TryAcquire(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	release, ok, _ := l.TryAcquire(ctx, "k", time.Minute)
	require.True(t, ok)
	_, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	release()
	_, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
	assert.True(t, ok)

	// ttl expiry frees the key without release
	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryAcquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}
