package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chain-ledger/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStatsCache(t *testing.T) (*StatsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStatsCache(NewRedisCacheFromClient(client), time.Minute), mr
}

func sampleStats() *models.ValueStats {
	return &models.ValueStats{
		TotalUSDValue: decimal.RequireFromString("1234.56"),
		ByAsset: []models.AssetValueStat{
			{Asset: "ETH", Amount: decimal.RequireFromString("2"), USDValue: decimal.RequireFromString("1200")},
			{Asset: "DAI", Amount: decimal.RequireFromString("34.56"), USDValue: decimal.RequireFromString("34.56")},
		},
	}
}

func TestStatsCacheRoundTrip(t *testing.T) {
	cache, _ := newTestStatsCache(t)
	ctx := context.Background()
	suffix := " WHERE (asset IN (?,?))"
	bindings := []interface{}{"ETH", "DAI"}

	_, ok := cache.Get(ctx, suffix, bindings)
	assert.False(t, ok, "empty cache must miss")

	stats := sampleStats()
	require.NoError(t, cache.Set(ctx, suffix, bindings, stats))

	got, ok := cache.Get(ctx, suffix, bindings)
	require.True(t, ok)
	assert.True(t, stats.TotalUSDValue.Equal(got.TotalUSDValue))
	require.Len(t, got.ByAsset, 2)
	assert.Equal(t, "ETH", got.ByAsset[0].Asset)
	assert.True(t, got.ByAsset[0].Amount.Equal(decimal.RequireFromString("2")))
}

func TestStatsCacheKeyDependsOnBindings(t *testing.T) {
	cache, _ := newTestStatsCache(t)
	ctx := context.Background()
	suffix := " WHERE (asset = ?)"

	require.NoError(t, cache.Set(ctx, suffix, []interface{}{"ETH"}, sampleStats()))

	_, ok := cache.Get(ctx, suffix, []interface{}{"BTC"})
	assert.False(t, ok, "different bindings must not share an entry")

	_, ok = cache.Get(ctx, " WHERE (location = ?)", []interface{}{"ETH"})
	assert.False(t, ok, "different suffix must not share an entry")
}

func TestStatsCacheInvalidateClearsNamespaceOnly(t *testing.T) {
	cache, mr := newTestStatsCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, " WHERE (asset = ?)", []interface{}{"ETH"}, sampleStats()))
	require.NoError(t, cache.Set(ctx, " WHERE (asset = ?)", []interface{}{"DAI"}, sampleStats()))
	require.NoError(t, mr.Set("unrelated:key", "survives"))

	require.NoError(t, cache.Invalidate(ctx))

	_, ok := cache.Get(ctx, " WHERE (asset = ?)", []interface{}{"ETH"})
	assert.False(t, ok)
	_, ok = cache.Get(ctx, " WHERE (asset = ?)", []interface{}{"DAI"})
	assert.False(t, ok)
	assert.True(t, mr.Exists("unrelated:key"), "invalidation must only touch the stats namespace")
}

func TestStatsCacheInvalidateEmptyIsNoop(t *testing.T) {
	cache, _ := newTestStatsCache(t)
	require.NoError(t, cache.Invalidate(context.Background()))
}

func TestStatsCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := newTestStatsCache(t)
	ctx := context.Background()
	suffix := " WHERE (asset = ?)"
	bindings := []interface{}{"ETH"}

	require.NoError(t, cache.Set(ctx, suffix, bindings, sampleStats()))
	keys := mr.Keys()
	require.Len(t, keys, 1)
	require.NoError(t, mr.Set(keys[0], "{not json"))

	_, ok := cache.Get(ctx, suffix, bindings)
	assert.False(t, ok, "corrupt entry must read as a miss")
}

func TestStatsCacheEntriesExpire(t *testing.T) {
	cache, mr := newTestStatsCache(t)
	ctx := context.Background()
	suffix := " WHERE (asset = ?)"
	bindings := []interface{}{"ETH"}

	require.NoError(t, cache.Set(ctx, suffix, bindings, sampleStats()))
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, suffix, bindings)
	assert.False(t, ok, "entries must honor the TTL")
}
