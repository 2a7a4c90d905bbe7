package provider

import (
	"context"
	"encoding/json"

	"github.com/bidflow/ai-gateway/internal/task"
	"github.com/bidflow/ai-gateway/internal/tier"
)

// Result is a normalized upstream response. Result always holds valid JSON:
// either the parsed model output, or {"text": ...} wrapping raw text the
// model produced when it ignored the JSON instruction.
type Result struct {
	Result       json.RawMessage
	RawText      string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Client issues a single upstream call with the task rendered into the
// tier's prompt. Implementations respect ctx deadlines.
type Client interface {
	Invoke(ctx context.Context, t tier.Tier, tk task.Task, data json.RawMessage) (*Result, error)
	Name() string
}
