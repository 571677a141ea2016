package user

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-account/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/usertest"
	"github.com/ovaphlow/pitchfork/service-account/pkg/cache"
)

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "user:42", CacheKey(42))
}

func TestProfileCacheRoundTripIsSealed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pc := NewProfileCache(cache.NewRedis(rdb), usertest.NewCodec(), 0)
	ctx := context.Background()
	p := entity.Profile{ID: 7, FirstName: "Ana", TaxID: "529.982.247-25", CreatedAt: time.Now().UTC().Truncate(time.Second)}

	_, ok, err := pc.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pc.Set(ctx, p))
	raw, err := mr.Get("user:7")
	require.NoError(t, err)
	assert.NotContains(t, raw, "529.982.247-25")
	assert.Equal(t, DefaultCacheTTL, mr.TTL("user:7"))

	got, ok, err := pc.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)

	require.NoError(t, pc.Invalidate(ctx, 7))
	assert.False(t, mr.Exists("user:7"))
}

func TestProfileCacheReportsBackendErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	pc := NewProfileCache(cache.NewRedis(rdb), usertest.NewCodec(), time.Minute)

	mr.SetError("LOADING")
	_, ok, err := pc.Get(context.Background(), 1)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Error(t, pc.Set(context.Background(), entity.Profile{ID: 1}))
}

func TestProfileCacheGarbageIsAnError(t *testing.T) {
	backend := cache.NewMemory(4, time.Minute)
	pc := NewProfileCache(backend, usertest.NewCodec(), time.Minute)
	require.NoError(t, backend.Set(context.Background(), CacheKey(3), []byte("not sealed"), 0))

	_, ok, err := pc.Get(context.Background(), 3)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestDisabledProfileCache(t *testing.T) {
	pc := NewProfileCache(nil, usertest.NewCodec(), 0)
	_, ok, err := pc.Get(context.Background(), 1)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, pc.Set(context.Background(), entity.Profile{ID: 1}))
	assert.NoError(t, pc.Invalidate(context.Background(), 1))
}
