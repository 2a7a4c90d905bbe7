package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrQuotaExceeded = errors.New("daily quota exceeded")

// Tracker accounts per-user, per-day spend in USD. Commit happens only after
// a complete successful upstream call; cache hits and fallback responses are
// never committed.
type Tracker interface {
	// Check returns ErrQuotaExceeded when the user's accumulated spend for
	// the current day already meets or exceeds the cap.
	Check(ctx context.Context, userID string) error
	// Commit adds the true cost of a finished upstream call.
	Commit(ctx context.Context, userID string, costUSD float64) error
	// Spent reports the accumulated spend for the current day.
	Spent(ctx context.Context, userID string) (float64, error)
}

// Day-keyed counters only need to outlive their day; 48h leaves slack for
// reads near midnight.
const keyTTL = 48 * time.Hour

// RedisTracker keeps the counter in Redis via INCRBYFLOAT, which is atomic
// per increment. Two concurrent requests can both pass Check before either
// commits; that soft limit is accepted (the store offers atomic increments,
// not transactions).
type RedisTracker struct {
	rdb         *redis.Client
	dailyCapUSD float64
}

func NewRedisTracker(rdb *redis.Client, dailyCapUSD float64) *RedisTracker {
	return &RedisTracker{rdb: rdb, dailyCapUSD: dailyCapUSD}
}

func key(userID string) string {
	return fmt.Sprintf("ai:quota:%s:%s", userID, time.Now().UTC().Format("2006-01-02"))
}

func (t *RedisTracker) Check(ctx context.Context, userID string) error {
	spent, err := t.Spent(ctx, userID)
	if err != nil {
		return err
	}
	if spent >= t.dailyCapUSD {
		return fmt.Errorf("%w: spent $%.2f of $%.2f", ErrQuotaExceeded, spent, t.dailyCapUSD)
	}
	return nil
}

func (t *RedisTracker) Commit(ctx context.Context, userID string, costUSD float64) error {
	k := key(userID)
	if err := t.rdb.IncrByFloat(ctx, k, costUSD).Err(); err != nil {
		return fmt.Errorf("quota commit: %w", err)
	}
	if err := t.rdb.Expire(ctx, k, keyTTL).Err(); err != nil {
		return fmt.Errorf("quota commit: %w", err)
	}
	return nil
}

func (t *RedisTracker) Spent(ctx context.Context, userID string) (float64, error) {
	spent, err := t.rdb.Get(ctx, key(userID)).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("quota check: %w", err)
	}
	return spent, nil
}
