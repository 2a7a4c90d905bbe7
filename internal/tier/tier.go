package tier

import (
	"github.com/bidflow/ai-gateway/internal/task"
)

// Tier is a named cost/quality level of the upstream model. Rates are USD
// per million tokens.
type Tier struct {
	Name          string
	Model         string
	MaxTokens     int
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost computes the USD cost of a call at this tier.
func (t Tier) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*t.InputPerMTok +
		float64(outputTokens)/1_000_000*t.OutputPerMTok
}

// Selector maps declared complexity to a tier. Selection is a pure function
// of (task, complexity).
type Selector struct {
	cheap   Tier
	mid     Tier
	capable Tier
}

// Defaults mirror the production pricing tables for the Anthropic model
// family; override via NewSelector when pricing changes.
var (
	defaultCheap = Tier{
		Name:          "haiku",
		Model:         "claude-3-5-haiku-20241022",
		MaxTokens:     512,
		InputPerMTok:  0.25,
		OutputPerMTok: 1.25,
	}
	defaultMid = Tier{
		Name:          "sonnet",
		Model:         "claude-3-5-sonnet-20241022",
		MaxTokens:     2048,
		InputPerMTok:  3,
		OutputPerMTok: 15,
	}
	defaultCapable = Tier{
		Name:          "opus",
		Model:         "claude-3-opus-20240229",
		MaxTokens:     4096,
		InputPerMTok:  15,
		OutputPerMTok: 75,
	}
)

func NewSelector(cheap, mid, capable Tier) *Selector {
	return &Selector{cheap: cheap, mid: mid, capable: capable}
}

func NewDefaultSelector() *Selector {
	return NewSelector(defaultCheap, defaultMid, defaultCapable)
}

// Select picks a tier for the declared complexity: simple maps to the
// cheapest tier, medium to the mid tier, complex or unspecified to the most
// capable one. The formula task is narrow enough that it defaults to the
// cheapest tier when no complexity is declared.
func (s *Selector) Select(t task.Task, complexity string) Tier {
	switch complexity {
	case "simple":
		return s.cheap
	case "medium":
		return s.mid
	case "complex":
		return s.capable
	}

	if t == task.Formula {
		return s.cheap
	}
	return s.capable
}
