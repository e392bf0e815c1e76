package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEvaluator() Evaluator {
	return NewEvaluator(16, time.Minute)
}

func Test_Evaluate(t *testing.T) {
	e := newTestEvaluator()

	result, err := e.Evaluate(`amount * 2`, map[string]any{"amount": 21})
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func Test_Evaluate_UndefinedVariable(t *testing.T) {
	e := newTestEvaluator()

	result, err := e.Evaluate(`missing`, map[string]any{})
	require.NoError(t, err)
	require.Nil(t, result)
}

func Test_Evaluate_CompileError(t *testing.T) {
	e := newTestEvaluator()

	_, err := e.Evaluate(`amount >`, map[string]any{"amount": 1})
	require.Error(t, err)
}

func Test_EvaluateCondition(t *testing.T) {
	e := newTestEvaluator()

	require.True(t, e.EvaluateCondition(`amount > 10`, map[string]any{"amount": 11}))
	require.False(t, e.EvaluateCondition(`amount > 10`, map[string]any{"amount": 9}))
}

func Test_EvaluateCondition_FailsClosed(t *testing.T) {
	e := newTestEvaluator()

	// compile error
	require.False(t, e.EvaluateCondition(`amount >`, map[string]any{"amount": 1}))
	// non-boolean result
	require.False(t, e.EvaluateCondition(`amount`, map[string]any{"amount": 1}))
	// missing variable
	require.False(t, e.EvaluateCondition(`missing > 10`, map[string]any{}))
}

func Test_Evaluate_CachedProgram(t *testing.T) {
	e := newTestEvaluator()

	for i := 0; i < 3; i++ {
		result, err := e.Evaluate(`a + b`, map[string]any{"a": i, "b": 1})
		require.NoError(t, err)
		require.Equal(t, i+1, result)
	}
}
