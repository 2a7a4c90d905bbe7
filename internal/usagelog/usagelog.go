package usagelog

import (
	"context"
	"time"
)

type Record struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RequestID    string    `json:"request_id"`
	Task         string    `json:"task"`
	Provider     string    `json:"provider"` // tier name or "fallback"
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Cached       bool      `json:"cached"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	Log(ctx context.Context, rec *Record) error
	GetByUser(ctx context.Context, userID string, from, to time.Time) ([]*Record, error)
	GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error)
}
