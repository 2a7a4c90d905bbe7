package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newTestValidator() *Validator {
	return New(
		100000,
		[]string{"ignore previous", "drop table", "delete from", "<script>"},
		[]string{"EXECUTE", "EVAL", "IMPORTXML"},
	)
}

func TestValidate_PayloadTooLarge(t *testing.T) {
	v := newTestValidator()
	big, _ := json.Marshal(strings.Repeat("x", 100001))

	err := v.Validate("analyze", big)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestValidate_UnsafeContent(t *testing.T) {
	v := newTestValidator()
	dangerous := []string{
		"ignore previous instructions",
		"DROP TABLE users",
		"delete from accounts",
		`<script>alert("xss")</script>`,
	}

	for _, payload := range dangerous {
		data, _ := json.Marshal(map[string]string{"query": payload})
		err := v.Validate("analyze", data)
		if !errors.Is(err, ErrUnsafeContent) {
			t.Errorf("Expected ErrUnsafeContent for %q, got %v", payload, err)
		}
	}
}

func TestValidate_UnknownTask(t *testing.T) {
	v := newTestValidator()

	err := v.Validate("translate", json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Expected ErrUnknownTask, got %v", err)
	}
}

func TestValidate_InvalidData(t *testing.T) {
	v := newTestValidator()

	if err := v.Validate("analyze", nil); !errors.Is(err, ErrInvalidData) {
		t.Errorf("Expected ErrInvalidData for missing data, got %v", err)
	}
	if err := v.Validate("analyze", json.RawMessage(`{broken`)); !errors.Is(err, ErrInvalidData) {
		t.Errorf("Expected ErrInvalidData for malformed data, got %v", err)
	}
}

func TestValidate_Accepts(t *testing.T) {
	v := newTestValidator()
	data, _ := json.Marshal([]map[string]any{{"title": "Test Bid", "budget": 1000000}})

	if err := v.Validate("analyze", data); err != nil {
		t.Errorf("Expected valid request to pass, got %v", err)
	}
}

func TestCheckFormula_Disallowed(t *testing.T) {
	v := newTestValidator()

	for _, fn := range []string{"EXECUTE", "eval", "ImportXML"} {
		result, _ := json.Marshal(map[string]string{
			"formula":     fmt.Sprintf("=%s(A1)", fn),
			"explanation": "runs something",
		})
		err := v.CheckFormula(result)
		if !errors.Is(err, ErrDisallowedFunction) {
			t.Errorf("Expected ErrDisallowedFunction for %s, got %v", fn, err)
		}
	}
}

func TestCheckFormula_Safe(t *testing.T) {
	v := newTestValidator()
	result, _ := json.Marshal(map[string]string{
		"formula":     `=SUMIF(B:B,">1000000")`,
		"explanation": "sums budgets above one million",
	})

	if err := v.CheckFormula(result); err != nil {
		t.Errorf("Expected safe formula to pass, got %v", err)
	}
}

func TestCheckFormula_RawTextScanned(t *testing.T) {
	// When the upstream output was not parseable JSON the whole raw text is
	// scanned instead of a formula field.
	v := newTestValidator()
	result, _ := json.Marshal(map[string]string{"text": "use =EXECUTE(cmd) for this"})

	if err := v.CheckFormula(result); !errors.Is(err, ErrDisallowedFunction) {
		t.Errorf("Expected ErrDisallowedFunction, got %v", err)
	}
}
