package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client, "api-1", testLogger())

	unlock, err := locker.TryLock(ctx, "loc-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("turn-lock:loc-1"))

	_, err = locker.TryLock(ctx, "loc-1")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	other, err := locker.TryLock(ctx, "loc-2")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists("turn-lock:loc-1"))

	unlock, err = locker.TryLock(ctx, "loc-1")
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_ReleaseOnlyOwnLock(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client, "", testLogger()).WithTTL(time.Second)

	unlock, err := locker.TryLock(ctx, "loc-1")
	require.NoError(t, err)

	// The lock expires and another holder takes it.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("turn-lock:loc-1", "someone-else"))

	unlock()
	got, err := mr.Get("turn-lock:loc-1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "loc-1")
	require.NoError(t, err)
	_, err = locker.TryLock(ctx, "loc-1")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	unlock()
	unlock() // second release is a no-op

	again, err := locker.TryLock(ctx, "loc-1")
	require.NoError(t, err)
	_, err = locker.TryLock(ctx, "loc-1")
	assert.ErrorIs(t, err, ErrTurnInProgress, "stale release must not free a newer lock")
	again()
}
