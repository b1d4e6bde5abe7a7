package store

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisKV(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisKV(client, "")
}

func TestRedisKV_GetSet(t *testing.T) {
	mr, kv := setupRedisKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "sta:datastream:1")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "sta:datastream:1", `{"id":1}`, time.Minute))
	v, err := kv.Get(ctx, "sta:datastream:1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, v)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "sta:datastream:1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisKV_ScanAndDel(t *testing.T) {
	_, kv := setupRedisKV(t)
	ctx := context.Background()

	for _, k := range []string{"sta:datastream:1", "sta:datastream:2", "other:1"} {
		require.NoError(t, kv.Set(ctx, k, "x", 0))
	}

	keys, err := kv.ScanKeys(ctx, "sta:datastream:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"sta:datastream:1", "sta:datastream:2"}, keys)

	require.NoError(t, kv.Del(ctx, keys...))
	require.NoError(t, kv.Del(ctx))

	keys, err = kv.ScanKeys(ctx, "sta:datastream:*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	v, err := kv.Get(ctx, "other:1")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestRedisKV_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	kv := NewRedisKV(client, "staging:")
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "sta:datastream:1", "a", 0))
	require.NoError(t, kv.Set(ctx, "sta:datastream:2", "b", 0))
	require.NoError(t, mr.Set("sta:datastream:3", "other deployment"))

	assert.True(t, mr.Exists("staging:sta:datastream:1"))
	assert.False(t, mr.Exists("sta:datastream:1"))

	keys, err := kv.ScanKeys(ctx, "sta:datastream:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"sta:datastream:1", "sta:datastream:2"}, keys)

	require.NoError(t, kv.Del(ctx, keys...))
	assert.False(t, mr.Exists("staging:sta:datastream:1"))
	assert.True(t, mr.Exists("sta:datastream:3"))
}
