package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisTabStorage) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tab := NewRedisTabStorageFromClient(client, "test:", "tab-1", ttl)
	t.Cleanup(func() { _ = tab.Close() })
	return mr, tab
}

func TestRedisTabStorageSessionID(t *testing.T) {
	mr, tab := setupMiniredis(t, 0)
	ctx := context.Background()

	id := identity.GetOrCreateSessionID(ctx, tab, nil)
	assert.Equal(t, id, identity.GetOrCreateSessionID(ctx, tab, nil))

	stored, err := mr.Get("test:tab-1:" + identity.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, id, stored)
}

func TestRedisTabStorageMissingKey(t *testing.T) {
	_, tab := setupMiniredis(t, 0)

	value, ok, err := tab.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestRedisTabStorageExpires(t *testing.T) {
	mr, tab := setupMiniredis(t, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, tab.Set(ctx, "k", "v"))

	mr.FastForward(20 * time.Minute)
	_, ok, err := tab.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "read within ttl")

	// The read extended the ttl.
	mr.FastForward(20 * time.Minute)
	_, ok, err = tab.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(31 * time.Minute)
	_, ok, err = tab.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTabStorageUnavailable(t *testing.T) {
	mr, tab := setupMiniredis(t, 0)
	mr.SetError("LOADING redis is loading the dataset in memory")

	_, _, err := tab.Get(context.Background(), "k")
	assert.Error(t, err)

	id := identity.GetOrCreateSessionID(context.Background(), tab, nil)
	assert.True(t, identity.IsGeneratedSessionID(id))
}

func TestNewRedisTabStorageRequiresAddr(t *testing.T) {
	_, err := NewRedisTabStorage(context.Background(), "", "tab", time.Minute)
	assert.Error(t, err)
}
