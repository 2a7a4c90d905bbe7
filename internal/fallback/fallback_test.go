package fallback

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bidflow/ai-gateway/internal/task"
)

func TestBuild_ListAggregates(t *testing.T) {
	data := json.RawMessage(`[
		{"title":"Bid 1","budget":1000000},
		{"title":"Bid 2","budget":2000000},
		{"title":"Bid 3","budget":3000000}
	]`)

	result := Build(task.Analyze, data)

	var parsed struct {
		Insights        []string `json:"insights"`
		Recommendations []string `json:"recommendations"`
		Trends          []string `json:"trends"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("Fallback result is not valid JSON: %v", err)
	}

	joined := strings.Join(parsed.Insights, " ")
	if !strings.Contains(joined, "3 items") {
		t.Errorf("Expected item count in insights, got %v", parsed.Insights)
	}
	if !strings.Contains(joined, "average budget: 2000000") {
		t.Errorf("Expected average budget in insights, got %v", parsed.Insights)
	}
	if len(parsed.Recommendations) == 0 {
		t.Error("Expected at least one recommendation")
	}
	if parsed.Trends == nil {
		t.Error("Expected trends to be an empty list, not null")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	data := json.RawMessage(`[{"budget":100,"score":3},{"budget":200,"score":5}]`)

	first := Build(task.Analyze, data)
	for i := 0; i < 5; i++ {
		if got := Build(task.Analyze, data); !bytes.Equal(got, first) {
			t.Fatalf("Fallback result changed between calls: %s vs %s", got, first)
		}
	}
}

func TestBuild_NonListData(t *testing.T) {
	result := Build(task.Proposal, json.RawMessage(`{"bid":{"title":"X"}}`))

	var parsed map[string]string
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("Fallback result is not valid JSON: %v", err)
	}
	if parsed["message"] == "" {
		t.Error("Expected an unavailable notice for non-list data")
	}
}
