package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bidflow/ai-gateway/internal/task"
)

// Entry is a previously computed upstream result plus what it cost. A hit
// replays the result without a new upstream call or quota increment.
type Entry struct {
	Result       json.RawMessage `json:"result"`
	Tier         string          `json:"tier"`
	CostUSD      float64         `json:"cost_usd"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
}

// Store is implemented by the Redis cache (prod) and the memory cache (dev).
// Implementations treat entries older than their TTL as absent.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
}

// Fingerprint derives the cache key for (task, data, userID). Data is
// canonicalized first (decode to any, re-encode; encoding/json writes map
// keys in sorted order) so the key order of the caller's JSON never causes a
// false miss.
func Fingerprint(t task.Task, data json.RawMessage, userID string) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(userID))

	return fmt.Sprintf("ai:cache:%s:%s", t, hex.EncodeToString(h.Sum(nil))), nil
}
