package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"coco-alerts/internal/models"
)

// SnapshotSource loads the current snapshot of a coin. A nil snapshot means
// the coin is unknown.
type SnapshotSource interface {
	FetchCoinSnapshot(ctx context.Context, coinID string) (*models.CoinSnapshot, error)
}

// SnapshotCache keeps recently fetched snapshots in Redis so overlapping
// cycles on several instances share one feed read. Redis failures fall
// through to the source.
type SnapshotCache struct {
	rdb    *redis.Client
	source SnapshotSource
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// NewSnapshotCache decorates source with a Redis read-through cache.
func NewSnapshotCache(rdb *redis.Client, source SnapshotSource, ttl time.Duration, prefix string, logger zerolog.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SnapshotCache{
		rdb:    rdb,
		source: source,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.With().Str("component", "snapshot_cache").Logger(),
	}
}

// FetchCoinSnapshot serves from Redis when fresh, otherwise loads from the
// source and stores the result. Unknown coins are not cached.
func (c *SnapshotCache) FetchCoinSnapshot(ctx context.Context, coinID string) (*models.CoinSnapshot, error) {
	key := c.prefix + coinID

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap models.CoinSnapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return &snap, nil
		}
		c.logger.Warn().Str("coin_id", coinID).Msg("discarding undecodable cached snapshot")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Str("coin_id", coinID).Msg("snapshot cache read failed")
	}

	snap, err := c.source.FetchCoinSnapshot(ctx, coinID)
	if err != nil || snap == nil {
		return snap, err
	}

	if body, err := json.Marshal(snap); err == nil {
		if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("coin_id", coinID).Msg("snapshot cache write failed")
		}
	}
	return snap, nil
}

// Invalidate drops the cached snapshot for coinID.
func (c *SnapshotCache) Invalidate(ctx context.Context, coinID string) error {
	return c.rdb.Del(ctx, c.prefix+coinID).Err()
}
