package cel

import (
	"strings"
	"testing"

	"github.com/surftrail/surftrail/internal/domain/policy"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func TestEvaluate(t *testing.T) {
	e := newTestEvaluator(t)

	input := policy.ConditionInput{
		Host:    "work.example.com",
		URL:     "https://work.example.com/board?id=4",
		Private: false,
	}

	tests := []struct {
		name      string
		condition string
		want      bool
		wantErr   bool
	}{
		{"host equality", `host == "work.example.com"`, true, false},
		{"host mismatch", `host == "other.example.com"`, false, false},
		{"url contains", `url.contains("/board")`, true, false},
		{"private flag", `private == false`, true, false},
		{"combined", `host.endsWith(".example.com") && !private`, true, false},
		{"non-boolean result", `host`, false, true},
		{"unknown variable", `user == "x"`, false, true},
		{"syntax error", `host ==`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.condition, input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Evaluate(%q) succeeded, want error", tt.condition)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.condition, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}

func TestEvaluateUsesProgramCache(t *testing.T) {
	e := newTestEvaluator(t)
	input := policy.ConditionInput{Host: "a.example.com"}

	const cond = `host == "a.example.com"`
	if _, err := e.Evaluate(cond, input); err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	if _, ok := e.programs[cond]; !ok {
		t.Error("expected compiled program to be cached")
	}
	if _, err := e.Evaluate(cond, input); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
}

func TestValidateExpression(t *testing.T) {
	e := newTestEvaluator(t)

	if err := e.ValidateExpression(`host == "x"`); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := e.ValidateExpression(""); err == nil {
		t.Error("empty expression accepted")
	}
	if err := e.ValidateExpression(strings.Repeat("a", maxExpressionLength+1)); err == nil {
		t.Error("oversized expression accepted")
	}
	deep := strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1)
	if err := e.ValidateExpression(deep); err == nil {
		t.Error("deeply nested expression accepted")
	}
}
