package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bidflow/ai-gateway/internal/task"
)

var (
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrUnsafeContent      = errors.New("unsafe content")
	ErrUnknownTask        = errors.New("unknown task")
	ErrInvalidData        = errors.New("invalid data")
	ErrDisallowedFunction = errors.New("disallowed function")
)

// Validator runs every check synchronously, before any cache lookup, quota
// check or upstream call. A rejected request is never billed or counted.
type Validator struct {
	maxPayloadBytes  int
	blockedPhrases   []string
	blockedFunctions []string
}

func New(maxPayloadBytes int, blockedPhrases, blockedFunctions []string) *Validator {
	phrases := make([]string, len(blockedPhrases))
	for i, p := range blockedPhrases {
		phrases[i] = strings.ToLower(p)
	}
	functions := make([]string, len(blockedFunctions))
	for i, f := range blockedFunctions {
		functions[i] = strings.ToUpper(f)
	}
	return &Validator{
		maxPayloadBytes:  maxPayloadBytes,
		blockedPhrases:   phrases,
		blockedFunctions: functions,
	}
}

// Validate checks the task name, the serialized data size and the phrase
// blocklist. The phrase scan is a plain substring match over the lowercased
// serialization, matching on any task.
func (v *Validator) Validate(taskName string, data json.RawMessage) error {
	if _, ok := task.Parse(taskName); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, taskName)
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: missing", ErrInvalidData)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidData)
	}

	if len(data) > v.maxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d byte limit", ErrPayloadTooLarge, len(data), v.maxPayloadBytes)
	}

	lower := strings.ToLower(string(data))
	for _, phrase := range v.blockedPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("%w: contains %q", ErrUnsafeContent, phrase)
		}
	}

	return nil
}

type formulaResult struct {
	Formula string `json:"formula"`
	Text    string `json:"text"`
}

// CheckFormula scans a formula-task result for blocked function names. The
// upstream call has already happened by the time this runs, so its cost is
// still committed to quota even when the result is rejected.
func (v *Validator) CheckFormula(result json.RawMessage) error {
	var parsed formulaResult
	scan := string(result)
	if err := json.Unmarshal(result, &parsed); err == nil && parsed.Formula != "" {
		scan = parsed.Formula
	}

	upper := strings.ToUpper(scan)
	for _, fn := range v.blockedFunctions {
		if strings.Contains(upper, fn) {
			return fmt.Errorf("%w: %s", ErrDisallowedFunction, fn)
		}
	}
	return nil
}
