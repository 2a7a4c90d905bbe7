package fallback

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bidflow/ai-gateway/internal/task"
)

// Build synthesizes a deterministic, zero-cost substitute result for when
// the upstream provider is unavailable. It never fails: unusable data
// degrades to a static notice.
func Build(t task.Task, data json.RawMessage) json.RawMessage {
	if t == task.Analyze {
		if result, ok := summarizeList(data); ok {
			return result
		}
	}

	out, _ := json.Marshal(map[string]string{
		"message": "AI service is temporarily unavailable. Please try again later.",
	})
	return out
}

// summarizeList computes simple aggregates over a JSON array: item count and
// the average of every numeric field. Enough for the caller to display
// something useful without the paid dependency.
func summarizeList(data json.RawMessage) (json.RawMessage, bool) {
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false
	}

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, item := range items {
		for field, value := range item {
			if n, ok := value.(float64); ok {
				sums[field] += n
				counts[field]++
			}
		}
	}

	insights := []string{fmt.Sprintf("%d items total", len(items))}

	fields := make([]string, 0, len(sums))
	for field := range sums {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		insights = append(insights, fmt.Sprintf("average %s: %.0f", field, sums[field]/float64(counts[field])))
	}

	out, err := json.Marshal(map[string]any{
		"insights":        insights,
		"recommendations": []string{"Review the data manually while AI analysis is unavailable"},
		"trends":          []string{},
	})
	if err != nil {
		return nil, false
	}
	return out, true
}
