package cache

import (
	"context"
	"testing"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, retention time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, retention), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 0)

	now := time.Now().UTC().Truncate(time.Second)
	price := model.CachedPrice{Ticker: "VTI", Price: 235.5, Currency: "USD", Timestamp: now, ExpiresAt: now.Add(24 * time.Hour)}
	require.NoError(t, store.Set(ctx, price))

	assert.True(t, mr.Exists("price:VTI"))
	assert.Zero(t, mr.TTL("price:VTI"), "unlimited retention keeps the key forever")

	got, err := store.Get(ctx, "VTI")
	require.NoError(t, err)
	assert.Equal(t, price.Price, got.Price)
	assert.True(t, price.ExpiresAt.Equal(got.ExpiresAt))

	_, err = store.Get(ctx, "BND")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_RetentionTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Hour)

	now := time.Now()
	require.NoError(t, store.Set(ctx, model.CachedPrice{Ticker: "VTI", Price: 1, Timestamp: now, ExpiresAt: now.Add(time.Hour)}))

	ttl := mr.TTL("price:VTI")
	assert.Greater(t, ttl, 110*time.Minute)
	assert.LessOrEqual(t, ttl, 2*time.Hour)

	mr.FastForward(2*time.Hour + time.Second)
	_, err := store.Get(ctx, "VTI")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListDeleteClear(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, 0)

	require.NoError(t, mr.Set("session:42", "not a price"))
	for _, ticker := range []string{"VTI", "BND", "VNQ"} {
		require.NoError(t, store.Set(ctx, model.CachedPrice{Ticker: ticker, Price: 1, ExpiresAt: time.Now().Add(time.Hour)}))
	}

	prices, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, prices, 3)

	require.NoError(t, store.Delete(ctx, "VNQ"))
	prices, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, prices, 2)

	require.NoError(t, store.Clear(ctx))
	prices, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, prices)
	assert.True(t, mr.Exists("session:42"), "clear must only touch price keys")
}

func TestPriceCache_OverRedis(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, 0)
	c := NewPriceCache(store, 0)

	require.NoError(t, c.Set(ctx, "vti", 235.5, "USD", time.Hour))

	entry, ok := c.Get(ctx, "VTI")
	require.True(t, ok)
	assert.Equal(t, 235.5, entry.Price)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok = c.Get(ctx, "VTI")
	assert.False(t, ok)
	_, err := store.Get(ctx, "VTI")
	assert.ErrorIs(t, err, ErrNotFound)
}
