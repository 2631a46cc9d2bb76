package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"coco-alerts/internal/models"
)

type countingSource struct {
	calls int
	snap  *models.CoinSnapshot
	err   error
}

func (s *countingSource) FetchCoinSnapshot(_ context.Context, coinID string) (*models.CoinSnapshot, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.snap == nil {
		return nil, nil
	}
	out := *s.snap
	out.CoinID = coinID
	return &out, nil
}

func setupCache(t *testing.T, src SnapshotSource) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb, err := Open(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewSnapshotCache(rdb, src, time.Minute, "test:snap:", zerolog.Nop()), mr
}

func TestSnapshotCacheReadThrough(t *testing.T) {
	score := 61.5
	src := &countingSource{snap: &models.CoinSnapshot{Symbol: "btc", PriceChange24h: -7.2, ConsistencyScore: &score}}
	c, mr := setupCache(t, src)
	ctx := context.Background()

	first, err := c.FetchCoinSnapshot(ctx, "bitcoin")
	if err != nil || first == nil {
		t.Fatalf("first fetch: %v %v", first, err)
	}
	second, err := c.FetchCoinSnapshot(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}
	if second.PriceChange24h != -7.2 || second.ConsistencyScore == nil || *second.ConsistencyScore != 61.5 {
		t.Fatalf("cached snapshot mismatch: %+v", second)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.FetchCoinSnapshot(ctx, "bitcoin"); err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("expired entry should refetch, calls = %d", src.calls)
	}
}

func TestSnapshotCacheUnknownCoinNotCached(t *testing.T) {
	src := &countingSource{}
	c, mr := setupCache(t, src)

	snap, err := c.FetchCoinSnapshot(context.Background(), "ghost")
	if err != nil || snap != nil {
		t.Fatalf("unknown coin = %v, %v", snap, err)
	}
	if mr.Exists("test:snap:ghost") {
		t.Fatal("unknown coins must not be cached")
	}
}

func TestSnapshotCacheSourceError(t *testing.T) {
	src := &countingSource{err: errors.New("feed down")}
	c, _ := setupCache(t, src)

	if _, err := c.FetchCoinSnapshot(context.Background(), "bitcoin"); err == nil {
		t.Fatal("source error should propagate")
	}
}

func TestSnapshotCacheRedisDownFallsThrough(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	src := &countingSource{snap: &models.CoinSnapshot{Symbol: "eth"}}
	c := NewSnapshotCache(rdb, src, time.Minute, "test:snap:", zerolog.Nop())

	snap, err := c.FetchCoinSnapshot(context.Background(), "ethereum")
	if err != nil || snap == nil || snap.CoinID != "ethereum" {
		t.Fatalf("redis outage should fall through to source: %v %v", snap, err)
	}
}
