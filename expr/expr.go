// Package expr provides the expression evaluator used for sequence flow
// conditions, script tasks, and user task assignment rules.
package expr

import (
	"fmt"
	"time"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/jellydator/ttlcache/v3"
)

// Evaluator evaluates expressions against a variable context.
type Evaluator interface {
	// Evaluate evaluates the given expression and returns its value.
	Evaluate(expression string, vars map[string]any) (any, error)

	// EvaluateCondition evaluates the given expression as a boolean. It
	// fails closed: evaluation errors and non-boolean results are reported
	// as "condition not met", never as an error.
	EvaluateCondition(expression string, vars map[string]any) bool
}

type evaluator struct {
	programs *ttlcache.Cache[string, *vm.Program]
}

// NewEvaluator returns the default expression evaluator. Compiled programs
// are cached with the given capacity and expiration.
func NewEvaluator(cacheSize int, cacheExpiration time.Duration) Evaluator {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, *vm.Program](uint64(cacheSize)),
		ttlcache.WithTTL[string, *vm.Program](cacheExpiration),
	)

	return &evaluator{programs: c}
}

func (e *evaluator) Evaluate(expression string, vars map[string]any) (any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compiling expression %q: %w", expression, err)
	}

	result, err := exprlang.Run(program, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression %q: %w", expression, err)
	}

	return result, nil
}

func (e *evaluator) EvaluateCondition(expression string, vars map[string]any) bool {
	result, err := e.Evaluate(expression, vars)
	if err != nil {
		return false
	}

	b, ok := result.(bool)
	if !ok {
		return false
	}

	return b
}

func (e *evaluator) compile(expression string) (*vm.Program, error) {
	if cached := e.programs.Get(expression); cached != nil {
		return cached.Value(), nil
	}

	program, err := exprlang.Compile(expression, exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.programs.Set(expression, program, ttlcache.DefaultTTL)

	return program, nil
}
