package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Usage is a read-time aggregate; nothing stores a hit rate.
type Usage struct {
	TotalRequests int64   `json:"total_requests"`
	TotalCost     float64 `json:"total_cost"`
	CacheHits     int64   `json:"cache_hits"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
}

// Recorder updates per-user counters alongside cache and quota operations
// and derives Usage from them on read.
type Recorder interface {
	Record(ctx context.Context, userID string, cached bool, costUSD float64) error
	Stats(ctx context.Context, userID string) (*Usage, error)
}

const keyTTL = 48 * time.Hour

// RedisRecorder keeps counters in a per-user, per-day hash. HINCRBY and
// HINCRBYFLOAT are atomic per field, so concurrent requests never lose
// updates.
type RedisRecorder struct {
	rdb *redis.Client
}

func NewRedisRecorder(rdb *redis.Client) *RedisRecorder {
	return &RedisRecorder{rdb: rdb}
}

func key(userID string) string {
	return fmt.Sprintf("ai:stats:%s:%s", userID, time.Now().UTC().Format("2006-01-02"))
}

func (r *RedisRecorder) Record(ctx context.Context, userID string, cached bool, costUSD float64) error {
	k := key(userID)

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, k, "total_requests", 1)
	if cached {
		pipe.HIncrBy(ctx, k, "cache_hits", 1)
	}
	if costUSD > 0 {
		pipe.HIncrByFloat(ctx, k, "total_cost", costUSD)
	}
	pipe.Expire(ctx, k, keyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stats record: %w", err)
	}
	return nil
}

func (r *RedisRecorder) Stats(ctx context.Context, userID string) (*Usage, error) {
	fields, err := r.rdb.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("stats read: %w", err)
	}

	// A user with no activity gets all-zero stats, not an error.
	u := &Usage{}
	u.TotalRequests, _ = strconv.ParseInt(fields["total_requests"], 10, 64)
	u.CacheHits, _ = strconv.ParseInt(fields["cache_hits"], 10, 64)
	u.TotalCost, _ = strconv.ParseFloat(fields["total_cost"], 64)
	if u.TotalRequests > 0 {
		u.CacheHitRate = float64(u.CacheHits) / float64(u.TotalRequests)
	}
	return u, nil
}
