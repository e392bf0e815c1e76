package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_StartEvent(t *testing.T) {
	m := &ProcessModel{
		Activities: map[string]*Activity{
			"start": {ID: "start", Kind: KindStartEvent},
			"end":   {ID: "end", Kind: KindEndEvent},
		},
	}

	start, err := m.StartEvent()
	require.NoError(t, err)
	require.Equal(t, "start", start.ID)
}

func Test_StartEvent_Missing(t *testing.T) {
	m := &ProcessModel{Activities: map[string]*Activity{
		"end": {ID: "end", Kind: KindEndEvent},
	}}

	_, err := m.StartEvent()
	require.ErrorContains(t, err, "no start event")
}

func Test_StartEvent_Ambiguous(t *testing.T) {
	m := &ProcessModel{Activities: map[string]*Activity{
		"s1": {ID: "s1", Kind: KindStartEvent},
		"s2": {ID: "s2", Kind: KindStartEvent},
	}}

	_, err := m.StartEvent()
	require.ErrorContains(t, err, "more than one start event")
}

func Test_OutgoingOrderPreserved(t *testing.T) {
	m := &ProcessModel{
		Activities: map[string]*Activity{
			"gw": {ID: "gw", Kind: KindExclusiveGateway},
			"a":  {ID: "a", Kind: KindEndEvent},
			"b":  {ID: "b", Kind: KindEndEvent},
		},
		Flows: []SequenceFlow{
			{ID: "f1", Source: "gw", Target: "a"},
			{ID: "f2", Source: "gw", Target: "b"},
		},
	}

	flows := m.Outgoing("gw")
	require.Len(t, flows, 2)
	require.Equal(t, "f1", flows[0].ID)
	require.Equal(t, "f2", flows[1].ID)
}

func Test_ResolveEmbeddedActivity(t *testing.T) {
	inner := &ProcessModel{
		Activities: map[string]*Activity{
			"inner-start": {ID: "inner-start", Kind: KindStartEvent},
			"inner-end":   {ID: "inner-end", Kind: KindEndEvent},
		},
		Flows: []SequenceFlow{{ID: "if1", Source: "inner-start", Target: "inner-end"}},
	}

	m := &ProcessModel{
		Activities: map[string]*Activity{
			"start": {ID: "start", Kind: KindStartEvent},
			"sub":   {ID: "sub", Kind: KindSubProcess, Embedded: inner},
			"end":   {ID: "end", Kind: KindEndEvent},
		},
	}

	a, scope := m.Activity("inner-end")
	require.NotNil(t, a)
	require.NotNil(t, scope)
	require.False(t, scope.Root())
	require.Equal(t, "sub", scope.SubProcessID)
	require.Same(t, inner, scope.Model)

	root, rootScope := m.Activity("start")
	require.NotNil(t, root)
	require.True(t, rootScope.Root())

	missing, _ := m.Activity("nope")
	require.Nil(t, missing)
}

func Test_RetryPolicy_NextDelay(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffMultiplier: 2}

	require.Equal(t, time.Second, p.NextDelay(0))
	require.Equal(t, 2*time.Second, p.NextDelay(1))
	require.Equal(t, 4*time.Second, p.NextDelay(2))
}

func Test_RetryPolicy_DefaultMultiplier(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 2, InitialInterval: time.Second}

	require.Equal(t, time.Second, p.NextDelay(5))
}
