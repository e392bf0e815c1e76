package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/scheduler"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

func userTaskModel(task *model.Activity) *model.ProcessModel {
	task.ID = "review"
	task.Kind = model.KindUserTask

	return &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start":  {ID: "start", Kind: model.KindStartEvent},
			"review": task,
			"end":    {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "review"),
			flow("review", "end"),
		},
	}
}

func TestUserTaskCreatesTaskAndWaits(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{
		Name:           `"Review order " + orderId`,
		Assignee:       "requestedBy",
		CandidateGroup: "approvers",
		FormKey:        "review-form",
	}))

	instance := env.start(map[string]*variable.Value{
		"orderId":     variable.String("ord-7"),
		"requestedBy": variable.String("ines"),
	})

	require.Equal(t, core.InstanceRunning, instance.Status)
	require.True(t, instance.Active.Contains("review"))

	created := env.sink.Tasks()
	require.Len(t, created, 1)
	require.Equal(t, "Review order ord-7", created[0].Name)
	require.Equal(t, "ines", created[0].Assignee)
	// Not an expression, used literally.
	require.Equal(t, "approvers", created[0].CandidateGroup)
	require.Equal(t, "review-form", created[0].FormKey)
	require.Equal(t, instance.ID, created[0].InstanceID)
}

func TestCompleteUserTaskFollowsActionFlow(t *testing.T) {
	m := &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start":    {ID: "start", Kind: model.KindStartEvent},
			"review":   {ID: "review", Kind: model.KindUserTask},
			"ship":     {ID: "ship", Kind: model.KindScriptTask, Script: `"shipped"`, ResultVariable: "outcome"},
			"restock":  {ID: "restock", Kind: model.KindScriptTask, Script: `"restocked"`, ResultVariable: "outcome"},
			"end":      {ID: "end", Kind: model.KindEndEvent},
			"rejected": {ID: "rejected", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "review"),
			{ID: "approve", Name: "approve", Source: "review", Target: "ship"},
			{ID: "reject", Name: "reject", Source: "review", Target: "restock"},
			flow("ship", "end"),
			flow("restock", "rejected"),
		},
	}

	env := newTestEnv(t, m)
	instance := env.start(nil)
	ai := env.activityInstance(instance.ID, "review")

	outputs := map[string]*variable.Value{"approvedBy": variable.String("ines")}
	require.NoError(t, env.engine.CompleteUserTask(context.Background(), instance.ID, ai.ID, outputs, "reject"))

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceCompleted, instance.Status)

	outcome, err := env.variable(instance.ID, "outcome").AsString()
	require.NoError(t, err)
	require.Equal(t, "restocked", outcome)

	approvedBy, err := env.variable(instance.ID, "approvedBy").AsString()
	require.NoError(t, err)
	require.Equal(t, "ines", approvedBy)

	require.Equal(t, core.ActivityCompleted, env.activityInstance(instance.ID, "rejected").Status)
}

func TestCompleteUserTaskDefaultsToFirstFlow(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{}))

	instance := env.start(nil)
	ai := env.activityInstance(instance.ID, "review")

	require.NoError(t, env.engine.CompleteUserTask(context.Background(), instance.ID, ai.ID, nil, ""))
	require.Equal(t, core.InstanceCompleted, env.instance(instance.ID).Status)
}

func TestCompleteUserTaskTwiceIsRejected(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{}))

	instance := env.start(nil)
	ai := env.activityInstance(instance.ID, "review")

	require.NoError(t, env.engine.CompleteUserTask(context.Background(), instance.ID, ai.ID, nil, ""))

	var invalid *InvalidStateError
	err := env.engine.CompleteUserTask(context.Background(), instance.ID, ai.ID, nil, "")
	require.True(t, errors.As(err, &invalid))
}

func TestCompleteUserTaskRejectsOtherActivityKinds(t *testing.T) {
	env := newTestEnv(t, &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start": {ID: "start", Kind: model.KindStartEvent},
			"wait":  {ID: "wait", Kind: model.KindIntermediateCatchEvent, Signal: "go"},
			"end":   {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "wait"),
			flow("wait", "end"),
		},
	})

	instance := env.start(nil)
	ai := env.activityInstance(instance.ID, "wait")

	err := env.engine.CompleteUserTask(context.Background(), instance.ID, ai.ID, nil, "")
	require.ErrorContains(t, err, "not a user task")
}

func serviceTaskModel(activity *model.Activity) *model.ProcessModel {
	activity.ID = "charge"
	activity.Kind = model.KindServiceTask

	return &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start":  {ID: "start", Kind: model.KindStartEvent},
			"charge": activity,
			"end":    {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "charge"),
			flow("charge", "end"),
		},
	}
}

func TestServiceTaskInvokesHandler(t *testing.T) {
	env := newTestEnv(t, serviceTaskModel(&model.Activity{Service: "payments"}),
		WithServices(map[string]ServiceHandler{
			"payments": func(ctx context.Context, vars map[string]any) (map[string]any, error) {
				return map[string]any{"chargeId": "ch-1"}, nil
			},
		}))

	instance := env.start(nil)

	require.Equal(t, core.InstanceCompleted, instance.Status)

	chargeID, err := env.variable(instance.ID, "chargeId").AsString()
	require.NoError(t, err)
	require.Equal(t, "ch-1", chargeID)
}

func TestServiceTaskMissingHandlerFailsInstance(t *testing.T) {
	env := newTestEnv(t, serviceTaskModel(&model.Activity{Service: "payments"}))

	instance := env.start(nil)

	require.Equal(t, core.InstanceFailed, instance.Status)
	require.Contains(t, instance.Error, `no service handler registered for "payments"`)
}

func TestServiceTaskPanicIsCaptured(t *testing.T) {
	env := newTestEnv(t, serviceTaskModel(&model.Activity{Service: "payments"}),
		WithServices(map[string]ServiceHandler{
			"payments": func(ctx context.Context, vars map[string]any) (map[string]any, error) {
				panic("gateway unreachable")
			},
		}))

	instance := env.start(nil)

	require.Equal(t, core.InstanceFailed, instance.Status)
	require.Contains(t, instance.Error, "panic: gateway unreachable")
}

func TestServiceTaskRetriesWithBackoff(t *testing.T) {
	attempts := 0
	env := newTestEnv(t, serviceTaskModel(&model.Activity{
		Service: "payments",
		Retry: &model.RetryPolicy{
			MaxAttempts:       3,
			InitialInterval:   time.Second,
			BackoffMultiplier: 2,
		},
	}), WithServices(map[string]ServiceHandler{
		"payments": func(ctx context.Context, vars map[string]any) (map[string]any, error) {
			attempts++
			return nil, fmt.Errorf("provider unavailable")
		},
	}))

	instance := env.start(nil)
	require.Equal(t, core.InstanceRunning, instance.Status)

	ai := env.activityInstance(instance.ID, "charge")
	require.Equal(t, core.ActivityFailed, ai.Status)
	require.Contains(t, ai.Error, "provider unavailable")

	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	base := env.clock.Now().UTC()

	for i, want := range wantDelays {
		jobs := env.jobs.Jobs()
		require.Len(t, jobs, i+1)
		require.Equal(t, scheduler.JobRetryActivity, jobs[i].Type)
		require.Equal(t, base.Add(want), jobs[i].NotBefore)

		require.NoError(t, env.engine.RetryActivity(context.Background(), instance.ID, ai.ID))
	}

	// Retries exhausted: the fourth attempt fails the instance for good.
	require.Equal(t, 4, attempts)
	require.Len(t, env.jobs.Jobs(), 3)

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceFailed, instance.Status)
	require.Contains(t, instance.Error, "provider unavailable")
	require.Equal(t, 3, env.activityInstance(instance.ID, "charge").RetryCount)
}

func TestAsyncServiceTaskWaitsForCompletion(t *testing.T) {
	env := newTestEnv(t, serviceTaskModel(&model.Activity{Service: "payments", Async: true}))

	instance := env.start(nil)
	require.Equal(t, core.InstanceRunning, instance.Status)
	require.True(t, instance.Active.Contains("charge"))

	jobs := env.jobs.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, scheduler.JobServiceTask, jobs[0].Type)
	require.Equal(t, instance.ID, jobs[0].InstanceID)

	outputs := map[string]*variable.Value{"chargeId": variable.String("ch-9")}
	require.NoError(t, env.engine.CompleteActivity(context.Background(), instance.ID, jobs[0].ActivityInstanceID, outputs))

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceCompleted, instance.Status)

	chargeID, err := env.variable(instance.ID, "chargeId").AsString()
	require.NoError(t, err)
	require.Equal(t, "ch-9", chargeID)
}

func TestScriptTaskEvaluationErrorRespectsRetryPolicy(t *testing.T) {
	env := newTestEnv(t, &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start": {ID: "start", Kind: model.KindStartEvent},
			"calc":  {ID: "calc", Kind: model.KindScriptTask, Script: "amount / 0 lorem", ResultVariable: "x"},
			"end":   {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "calc"),
			flow("calc", "end"),
		},
	})

	// No retry policy: the evaluation error fails the instance directly.
	instance := env.start(map[string]*variable.Value{"amount": variable.Int(1)})

	require.Equal(t, core.InstanceFailed, instance.Status)
	require.Contains(t, instance.Error, `activity "calc" failed`)
}
