package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLease_SingleHolder(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	a := New(client, "sweep", time.Minute)
	b := New(client, "sweep", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second replica must not take a held lease")

	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "holder renews")
}

func TestLease_ExpiresWhenNotRenewed(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := New(client, "sweep", time.Minute)
	b := New(client, "sweep", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLease_RenewExtendsTTL(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := New(client, "sweep", time.Minute)
	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(40 * time.Second)
	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(40 * time.Second)
	assert.True(t, mr.Exists("sweep"), "renewal pushed expiry out")
}

func TestLease_ReleaseOnlyByOwner(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	a := New(client, "sweep", time.Minute)
	b := New(client, "sweep", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("sweep"), "non-owner release is a no-op")

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("sweep"))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err = New(client, "sweep", time.Minute).TryAcquire(context.Background())
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	mr, _ := setupRedis(t)

	c, err := NewClient(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewClient(context.Background(), Config{URL: "redis://" + mr.Addr() + "/0", PoolSize: 2})
	require.NoError(t, err)
	require.NotNil(t, c)
	_ = c.Close()

	_, err = NewClient(context.Background(), Config{URL: "://bad"})
	assert.Error(t, err)
}
