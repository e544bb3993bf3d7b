package redislease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	locker := NewWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	t.Cleanup(func() { _ = locker.Close() })
	return locker, server
}

func TestLeaseExcludesOtherHolders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locker, server := newTestLocker(t)

	ok, err := locker.TryAcquire(ctx, "full-crawl", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locker.TryAcquire(ctx, "full-crawl", "worker-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = locker.TryAcquire(ctx, "full-crawl", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "holder may renew")

	server.FastForward(2 * time.Minute)
	ok, err = locker.TryAcquire(ctx, "full-crawl", "worker-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseOnlyByHolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locker, server := newTestLocker(t)

	ok, err := locker.TryAcquire(ctx, "full-crawl", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "full-crawl", "worker-b"))
	require.True(t, server.Exists(keyPrefix+"full-crawl"))

	require.NoError(t, locker.Release(ctx, "full-crawl", "worker-a"))
	require.False(t, server.Exists(keyPrefix+"full-crawl"))
}

func TestNewRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := New("not a url")
	require.Error(t, err)
}
