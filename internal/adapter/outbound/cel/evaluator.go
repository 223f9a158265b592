// Package cel provides a CEL-based evaluator for host-rule conditions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/surftrail/surftrail/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for a condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates host-rule condition expressions.
// Compiled programs are cached per expression; rule sets are small and
// churn only on host sync.
type Evaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

var _ policy.ConditionEvaluator = (*Evaluator)(nil)

// newConditionEnvironment creates a CEL environment exposing the visit
// attributes a rule condition can inspect:
//
//	host    string — hostname of the visited URL
//	url     string — the full visited URL
//	private bool   — whether private mode is active
func newConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("host", cel.StringType),
		cel.Variable("url", cel.StringType),
		cel.Variable("private", cel.BoolType),
	)
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator() (*Evaluator, error) {
	env, err := newConditionEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create condition environment: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile parses and type-checks a condition, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// validateNesting rejects expressions nested deeper than maxNestingDepth.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a condition is syntactically valid and
// within the safety limits (length, nesting depth).
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if expr == "" {
		return errors.New("expression is empty")
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.compileCached(expr); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

func (e *Evaluator) compileCached(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}
	prg, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.programs[expr] = prg
	return prg, nil
}

// Evaluate runs a condition against the given visit. The expression
// must yield a boolean. Evaluation is bounded by evalTimeout so a
// pathological condition cannot stall event dispatch.
func (e *Evaluator) Evaluate(condition string, input policy.ConditionInput) (bool, error) {
	if err := validateNesting(condition); err != nil {
		return false, err
	}
	prg, err := e.compileCached(condition)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, map[string]any{
		"host":    input.Host,
		"url":     input.URL,
		"private": input.Private,
	})
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}
