package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockerExclusive(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	locker := NewLocker(client)

	unlock, ok, err := locker.TryLock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, unlock(ctx))

	unlock2, ok, err := locker.TryLock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, unlock2(ctx))
}

func TestLockerUnlockAfterExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	locker := NewLocker(client)

	unlock, ok, err := locker.TryLock(ctx, "lock:b", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	other, ok, err := locker.TryLock(ctx, "lock:b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, unlock(ctx), ErrLockLost)
	require.True(t, mr.Exists("lock:b"))
	require.NoError(t, other(ctx))
	require.False(t, mr.Exists("lock:b"))
}

func TestRedisDecisionCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewRedisDecisionCache(client)

	_, found, err := c.GetDecision(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.SetDecision(ctx, "k", true, time.Minute))
	allowed, found, err := c.GetDecision(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, allowed)

	require.NoError(t, c.SetDecision(ctx, "d", false, time.Minute))
	allowed, found, err = c.GetDecision(ctx, "d")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, allowed)

	mr.FastForward(2 * time.Minute)
	_, found, err = c.GetDecision(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisDecisionCacheUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	c := NewRedisDecisionCache(client)
	mr.Close()

	_, _, err := c.GetDecision(context.Background(), "k")
	require.Error(t, err)
}

func TestMemoryDecisionCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDecisionCache(time.Minute, time.Minute)

	require.NoError(t, c.SetDecision(ctx, "k", true, 20*time.Millisecond))
	allowed, found, err := c.GetDecision(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, allowed)

	require.Eventually(t, func() bool {
		_, found, _ := c.GetDecision(ctx, "k")
		return !found
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.SetDecision(ctx, "x", false, time.Minute))
	c.Flush()
	_, found, err = c.GetDecision(ctx, "x")
	require.NoError(t, err)
	require.False(t, found)
}
