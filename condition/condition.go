// Package condition evaluates edge conditions against the output of the
// edge's source node using govaluate expressions.
//
// Top-level output fields are plain parameters (`status == "ok"`); nested map
// fields are flattened with dots and must be bracketed (`[http.code] < 400`).
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"

	"github.com/meikuraledutech/workflow"
)

// Evaluator compiles each distinct expression once and reuses it.
type Evaluator struct {
	functions map[string]govaluate.ExpressionFunction
	compiled  sync.Map // string -> *govaluate.EvaluableExpression
}

// New returns an Evaluator with the built-in helper functions.
func New() *Evaluator {
	return &Evaluator{functions: builtinFunctions()}
}

var _ workflow.ConditionEvaluator = (*Evaluator)(nil)

// Evaluate reports whether condition holds for output. An empty condition is
// always true. Non-boolean results are an error.
func (e *Evaluator) Evaluate(condition string, output map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	expr, err := e.compile(condition)
	if err != nil {
		return false, err
	}
	result, err := expr.Evaluate(flatten(output))
	if err != nil {
		return false, fmt.Errorf("condition: evaluate %q: %w", condition, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition: %q yields %T, want bool", condition, result)
	}
	return b, nil
}

// Check compiles condition without evaluating it.
func (e *Evaluator) Check(condition string) error {
	if strings.TrimSpace(condition) == "" {
		return nil
	}
	_, err := e.compile(strings.TrimSpace(condition))
	return err
}

func (e *Evaluator) compile(condition string) (*govaluate.EvaluableExpression, error) {
	if v, ok := e.compiled.Load(condition); ok {
		return v.(*govaluate.EvaluableExpression), nil
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(condition, e.functions)
	if err != nil {
		return nil, fmt.Errorf("condition: parse %q: %w", condition, err)
	}
	e.compiled.Store(condition, expr)
	return expr, nil
}

func flatten(output map[string]any) map[string]interface{} {
	params := make(map[string]interface{}, len(output))
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			name := k
			if prefix != "" {
				name = prefix + "." + k
			}
			params[name] = v
			if nested, ok := v.(map[string]any); ok {
				walk(name, nested)
			}
		}
	}
	walk("", output)
	return params
}

func builtinFunctions() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"len": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
			}
			switch v := args[0].(type) {
			case string:
				return float64(len(v)), nil
			case map[string]interface{}:
				return float64(len(v)), nil
			case nil:
				return float64(0), nil
			}
			return nil, fmt.Errorf("len: unsupported type %T", args[0])
		},
		"contains": func(args ...interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
			}
			s, ok1 := args[0].(string)
			sub, ok2 := args[1].(string)
			if !ok1 || !ok2 {
				return false, nil
			}
			return strings.Contains(s, sub), nil
		},
	}
}
