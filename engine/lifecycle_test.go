package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/tasks"
)

func TestSuspendAndResume(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{}))

	instance := env.start(nil)
	ai := env.activityInstance(instance.ID, "review")

	require.NoError(t, env.engine.Suspend(context.Background(), instance.ID, "billing dispute"))

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceSuspended, instance.Status)
	require.Equal(t, "billing dispute", instance.SuspendReason)

	// Suspended instances reject resuming operations.
	var invalid *InvalidStateError
	err := env.engine.CompleteUserTask(context.Background(), instance.ID, ai.ID, nil, "")
	require.True(t, errors.As(err, &invalid))

	err = env.engine.Signal(context.Background(), instance.ID, "anything", nil)
	require.True(t, errors.As(err, &invalid))

	require.NoError(t, env.engine.Resume(context.Background(), instance.ID))

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceRunning, instance.Status)
	require.Empty(t, instance.SuspendReason)

	require.NoError(t, env.engine.CompleteUserTask(context.Background(), instance.ID, ai.ID, nil, ""))
	require.Equal(t, core.InstanceCompleted, env.instance(instance.ID).Status)
}

func TestSuspendRequiresRunningInstance(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{}))

	instance := env.start(nil)
	require.NoError(t, env.engine.Suspend(context.Background(), instance.ID, ""))

	var invalid *InvalidStateError
	err := env.engine.Suspend(context.Background(), instance.ID, "")
	require.True(t, errors.As(err, &invalid))
}

func TestResumeRequiresSuspendedInstance(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{}))

	instance := env.start(nil)

	var invalid *InvalidStateError
	err := env.engine.Resume(context.Background(), instance.ID)
	require.True(t, errors.As(err, &invalid))
}

func TestCancelWithdrawsOpenTasks(t *testing.T) {
	env := newTestEnv(t, &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start":   {ID: "start", Kind: model.KindStartEvent},
			"fork":    {ID: "fork", Kind: model.KindParallelGateway},
			"review":  {ID: "review", Kind: model.KindUserTask},
			"approve": {ID: "approve", Kind: model.KindUserTask},
			"join":    {ID: "join", Kind: model.KindParallelGateway},
			"end":     {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			flow("start", "fork"),
			flow("fork", "review"),
			flow("fork", "approve"),
			flow("review", "join"),
			flow("approve", "join"),
			flow("join", "end"),
		},
	})

	instance := env.start(nil)
	require.Equal(t, core.InstanceRunning, instance.Status)
	require.Len(t, env.sink.Tasks(), 2)

	require.NoError(t, env.engine.Cancel(context.Background(), instance.ID))

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceCancelled, instance.Status)
	require.NotNil(t, instance.CompletedAt)
	require.Zero(t, instance.Active.Len())

	require.Equal(t, core.ActivityCancelled, env.activityInstance(instance.ID, "review").Status)
	require.Equal(t, core.ActivityCancelled, env.activityInstance(instance.ID, "approve").Status)

	for _, task := range env.sink.Tasks() {
		require.Equal(t, tasks.TaskCancelled, task.Status)
	}
}

func TestCancelSuspendedInstance(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{}))

	instance := env.start(nil)
	require.NoError(t, env.engine.Suspend(context.Background(), instance.ID, "on hold"))
	require.NoError(t, env.engine.Cancel(context.Background(), instance.ID))

	instance = env.instance(instance.ID)
	require.Equal(t, core.InstanceCancelled, instance.Status)
	require.Empty(t, instance.SuspendReason)
}

func TestCancelTerminalInstanceIsRejected(t *testing.T) {
	env := newTestEnv(t, userTaskModel(&model.Activity{}))

	instance := env.start(nil)
	require.NoError(t, env.engine.Cancel(context.Background(), instance.ID))

	var invalid *InvalidStateError
	err := env.engine.Cancel(context.Background(), instance.ID)
	require.True(t, errors.As(err, &invalid))
}
