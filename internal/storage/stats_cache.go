package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
	"github.com/redis/go-redis/v9"
)

const statsCachePrefix = "chainledger:stats:"

// StatsCache caches value-stat aggregates in Redis, keyed by the exact
// filter SQL and bindings that produced them. Every event write
// invalidates the whole namespace.
type StatsCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewStatsCache creates a stats cache with the given entry TTL.
func NewStatsCache(redis *RedisCache, ttl time.Duration) *StatsCache {
	return &StatsCache{redis: redis, ttl: ttl}
}

// cacheKey hashes the query suffix and its bindings so equivalent filters
// share one entry regardless of length.
func (c *StatsCache) cacheKey(suffix string, bindings []interface{}) string {
	h := sha256.New()
	h.Write([]byte(suffix))
	for _, b := range bindings {
		fmt.Fprintf(h, "|%v", b)
	}
	return statsCachePrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached stats for a filter, if present.
func (c *StatsCache) Get(ctx context.Context, suffix string, bindings []interface{}) (*models.ValueStats, bool) {
	raw, err := c.redis.Get(ctx, c.cacheKey(suffix, bindings))
	if err != nil {
		if err != redis.Nil {
			logging.WithError(err).Debug("Stats cache read failed")
		}
		return nil, false
	}

	var stats models.ValueStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		logging.WithError(err).Warn("Corrupt stats cache entry, dropping")
		return nil, false
	}
	return &stats, true
}

// Set stores stats for a filter.
func (c *StatsCache) Set(ctx context.Context, suffix string, bindings []interface{}, stats *models.ValueStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal value stats: %w", err)
	}
	return c.redis.Set(ctx, c.cacheKey(suffix, bindings), raw, c.ttl)
}

// Invalidate drops every cached aggregate. Called after any write to the
// events table since any filter's result may have changed.
func (c *StatsCache) Invalidate(ctx context.Context) error {
	keys, err := c.redis.Keys(ctx, statsCachePrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to list stats cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}
