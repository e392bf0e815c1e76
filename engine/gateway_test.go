package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

// decisionModel routes through an exclusive gateway into one of three script
// tasks, each recording which route was taken.
func decisionModel(defaultFlow bool) *model.ProcessModel {
	m := &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start":  {ID: "start", Kind: model.KindStartEvent},
			"route":  {ID: "route", Kind: model.KindExclusiveGateway},
			"low":    {ID: "low", Kind: model.KindScriptTask, Script: `"low"`, ResultVariable: "route"},
			"high":   {ID: "high", Kind: model.KindScriptTask, Script: `"high"`, ResultVariable: "route"},
			"manual": {ID: "manual", Kind: model.KindScriptTask, Script: `"manual"`, ResultVariable: "route"},
			"end":    {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "route"),
			{ID: "to-low", Source: "route", Target: "low", Condition: "amount < 100"},
			{ID: "to-high", Source: "route", Target: "high", Condition: "amount >= 100"},
			flow("low", "end"),
			flow("high", "end"),
		},
	}

	if defaultFlow {
		m.Flows = append(m.Flows,
			model.SequenceFlow{ID: "to-manual", Source: "route", Target: "manual", Default: true},
			flow("manual", "end"))
	} else {
		delete(m.Activities, "manual")
	}

	return m
}

func TestExclusiveGatewaySelectsFirstMatchingFlow(t *testing.T) {
	env := newTestEnv(t, decisionModel(true))

	instance := env.start(map[string]*variable.Value{"amount": variable.Int(250)})

	require.Equal(t, core.InstanceCompleted, instance.Status)

	route, err := env.variable(instance.ID, "route").AsString()
	require.NoError(t, err)
	require.Equal(t, "high", route)
}

func TestExclusiveGatewayFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t, decisionModel(true))

	// The conditions reference a missing variable and so fail closed.
	instance := env.start(nil)

	require.Equal(t, core.InstanceCompleted, instance.Status)

	route, err := env.variable(instance.ID, "route").AsString()
	require.NoError(t, err)
	require.Equal(t, "manual", route)
}

func TestExclusiveGatewayWithoutMatchFailsInstance(t *testing.T) {
	env := newTestEnv(t, decisionModel(false))

	instance := env.start(nil)

	require.Equal(t, core.InstanceFailed, instance.Status)
	require.Contains(t, instance.Error, "no outgoing flow condition matched")
}

func forkJoinModel(branches []string) *model.ProcessModel {
	m := &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start": {ID: "start", Kind: model.KindStartEvent},
			"fork":  {ID: "fork", Kind: model.KindParallelGateway},
			"join":  {ID: "join", Kind: model.KindParallelGateway},
			"end":   {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "fork"),
		},
	}

	for _, branch := range branches {
		m.Activities[branch] = &model.Activity{
			ID:             branch,
			Kind:           model.KindScriptTask,
			Script:         `"done"`,
			ResultVariable: branch,
		}
		m.Flows = append(m.Flows, flow("fork", branch), flow(branch, "join"))
	}

	m.Flows = append(m.Flows, flow("join", "end"))

	return m
}

func TestParallelForkJoin(t *testing.T) {
	branches := []string{"reserve", "invoice", "notify"}
	env := newTestEnv(t, forkJoinModel(branches))

	instance := env.start(nil)

	require.Equal(t, core.InstanceCompleted, instance.Status)
	require.Zero(t, instance.Active.Len())

	for _, branch := range branches {
		require.Equal(t, core.ActivityCompleted, env.activityInstance(instance.ID, branch).Status)
	}

	// The join completed exactly once, after every branch arrived.
	all, err := env.engine.ListActivityInstances(context.Background(), instance.ID)
	require.NoError(t, err)

	joins := 0
	for _, ai := range all {
		if ai.ActivityID == "join" {
			joins++
			require.Equal(t, core.ActivityCompleted, ai.Status)
			require.Equal(t, len(branches), ai.JoinArrivals)
		}
	}
	require.Equal(t, 1, joins)

	require.Equal(t, core.ActivityCompleted, env.activityInstance(instance.ID, "end").Status)
}

func TestParallelJoinWaitsForAllBranches(t *testing.T) {
	// One branch stops at a catch event, so the join must stay active.
	env := newTestEnv(t, &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start": {ID: "start", Kind: model.KindStartEvent},
			"fork":  {ID: "fork", Kind: model.KindParallelGateway},
			"quick": {ID: "quick", Kind: model.KindScriptTask, Script: "1"},
			"wait":  {ID: "wait", Kind: model.KindIntermediateCatchEvent, Signal: "released"},
			"join":  {ID: "join", Kind: model.KindParallelGateway},
			"end":   {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "fork"),
			flow("fork", "quick"),
			flow("fork", "wait"),
			flow("quick", "join"),
			flow("wait", "join"),
			flow("join", "end"),
		},
	})

	instance := env.start(nil)

	require.Equal(t, core.InstanceRunning, instance.Status)
	require.True(t, instance.Active.Contains("join"))
	require.True(t, instance.Active.Contains("wait"))
	require.Equal(t, 1, env.activityInstance(instance.ID, "join").JoinArrivals)

	require.NoError(t, env.engine.Signal(context.Background(), instance.ID, "released", nil))

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceCompleted, instance.Status)
	require.Equal(t, core.ActivityCompleted, env.activityInstance(instance.ID, "join").Status)
}
