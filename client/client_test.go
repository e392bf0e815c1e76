package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/memory"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/engine"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

func orderModel() *model.ProcessModel {
	return &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start": {ID: "start", Kind: model.KindStartEvent},
			"price": {ID: "price", Kind: model.KindScriptTask, Script: "amount * 2", ResultVariable: "total"},
			"end":   {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			{ID: "f1", Source: "start", Target: "price"},
			{ID: "f2", Source: "price", Target: "end"},
		},
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	store := memory.NewMemoryStore()
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return New(store)
}

func TestDeployCreatesAndPublishesVersions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	v1, err := c.Deploy(ctx, DeployOptions{Key: "order", Name: "Order handling"}, orderModel())
	require.NoError(t, err)
	require.Equal(t, 1, v1.Number)
	require.True(t, v1.Published)

	v2, err := c.Deploy(ctx, DeployOptions{Key: "order"}, orderModel())
	require.NoError(t, err)
	require.Equal(t, 2, v2.Number)
	require.Equal(t, v1.DefinitionID, v2.DefinitionID)

	// New instances run the newly published version.
	instance, err := c.StartInstance(ctx, engine.StartOptions{Key: "order", Variables: map[string]*variable.Value{
		"amount": variable.Int(5),
	}})
	require.NoError(t, err)
	require.Equal(t, 2, instance.Version)
}

func TestStartAndWaitForInstance(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, DeployOptions{Key: "order"}, orderModel())
	require.NoError(t, err)

	instance, err := c.StartInstance(ctx, engine.StartOptions{Key: "order", Variables: map[string]*variable.Value{
		"amount": variable.Int(21),
	}})
	require.NoError(t, err)

	finished, err := c.WaitForInstance(ctx, instance.ID, time.Second)
	require.NoError(t, err)
	require.Equal(t, core.InstanceCompleted, finished.Status)

	total, err := GetVariable[int64](ctx, c, instance.ID, "total")
	require.NoError(t, err)
	require.Equal(t, int64(42), total)
}

func TestWaitForInstanceTimesOut(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m := orderModel()
	m.Activities["price"] = &model.Activity{ID: "price", Kind: model.KindUserTask}

	_, err := c.Deploy(ctx, DeployOptions{Key: "order"}, m)
	require.NoError(t, err)

	instance, err := c.StartInstance(ctx, engine.StartOptions{Key: "order"})
	require.NoError(t, err)
	require.Equal(t, core.InstanceRunning, instance.Status)

	_, err = c.WaitForInstance(ctx, instance.ID, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestSignalAndCancelThroughClient(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m := &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start": {ID: "start", Kind: model.KindStartEvent},
			"wait":  {ID: "wait", Kind: model.KindIntermediateCatchEvent, Signal: "go"},
			"end":   {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{
			{ID: "f1", Source: "start", Target: "wait"},
			{ID: "f2", Source: "wait", Target: "end"},
		},
	}

	_, err := c.Deploy(ctx, DeployOptions{Key: "order"}, m)
	require.NoError(t, err)

	first, err := c.StartInstance(ctx, engine.StartOptions{Key: "order"})
	require.NoError(t, err)

	require.NoError(t, c.SignalInstance(ctx, first.ID, "go", nil))

	finished, err := c.GetInstance(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceCompleted, finished.Status)

	second, err := c.StartInstance(ctx, engine.StartOptions{Key: "order"})
	require.NoError(t, err)

	require.NoError(t, c.CancelInstance(ctx, second.ID))

	cancelled, err := c.GetInstance(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceCancelled, cancelled.Status)
}
