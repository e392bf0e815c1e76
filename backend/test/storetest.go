// Package test provides a conformance test suite shared by all store
// implementations.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

// StoreTest runs the conformance suite against the store produced by setup.
// teardown, if non-nil, runs after each sub-test.
func StoreTest(t *testing.T, setup func() backend.Store, teardown func(s backend.Store)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, s backend.Store)
	}{
		{"DefinitionRoundTrip", testDefinitionRoundTrip},
		{"DefinitionNotFound", testDefinitionNotFound},
		{"VersionPublishing", testVersionPublishing},
		{"InstanceRoundTrip", testInstanceRoundTrip},
		{"InstanceDuplicate", testInstanceDuplicate},
		{"InstanceCopiesDoNotAlias", testInstanceCopiesDoNotAlias},
		{"LockAcquireRelease", testLockAcquireRelease},
		{"LockExpiry", testLockExpiry},
		{"LockReentrantForSameHolder", testLockReentrantForSameHolder},
		{"ActivityInstances", testActivityInstances},
		{"VariablesReplaceOnSet", testVariablesReplaceOnSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setup()
			t.Cleanup(func() {
				if teardown != nil {
					teardown(s)
				}
				_ = s.Close()
			})

			tt.f(t, context.Background(), s)
		})
	}
}

func sampleModel() *model.ProcessModel {
	return &model.ProcessModel{
		Activities: map[string]*model.Activity{
			"start": {ID: "start", Kind: model.KindStartEvent},
			"end":   {ID: "end", Kind: model.KindEndEvent},
		},
		Flows: []model.SequenceFlow{{ID: "f1", Source: "start", Target: "end"}},
	}
}

func createInstance(t *testing.T, ctx context.Context, s backend.Store) *core.Instance {
	instance := &core.Instance{
		ID:           uuid.NewString(),
		DefinitionID: uuid.NewString(),
		Version:      1,
		Status:       core.InstanceRunning,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateInstance(ctx, instance))

	return instance
}

func testDefinitionRoundTrip(t *testing.T, ctx context.Context, s backend.Store) {
	def := &model.ProcessDefinition{
		ID:        uuid.NewString(),
		Tenant:    "t1",
		Key:       "order-process",
		Name:      "Order process",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, "t1", "order-process")
	require.NoError(t, err)
	require.Equal(t, def.ID, got.ID)
	require.Equal(t, def.Name, got.Name)
}

func testDefinitionNotFound(t *testing.T, ctx context.Context, s backend.Store) {
	_, err := s.GetDefinition(ctx, "t1", "missing")
	require.ErrorIs(t, err, backend.ErrDefinitionNotFound)
}

func testVersionPublishing(t *testing.T, ctx context.Context, s backend.Store) {
	defID := uuid.NewString()

	for n := 1; n <= 3; n++ {
		require.NoError(t, s.CreateVersion(ctx, &model.ProcessVersion{
			DefinitionID: defID,
			Number:       n,
			Model:        sampleModel(),
			CreatedAt:    time.Now().UTC(),
		}))
	}

	_, err := s.GetPublishedVersion(ctx, defID)
	require.ErrorIs(t, err, backend.ErrVersionNotFound)

	latest, err := s.GetLatestVersion(ctx, defID)
	require.NoError(t, err)
	require.Equal(t, 3, latest.Number)

	require.NoError(t, s.PublishVersion(ctx, defID, 2))

	published, err := s.GetPublishedVersion(ctx, defID)
	require.NoError(t, err)
	require.Equal(t, 2, published.Number)

	// publishing another version unpublishes the previous one
	require.NoError(t, s.PublishVersion(ctx, defID, 3))

	published, err = s.GetPublishedVersion(ctx, defID)
	require.NoError(t, err)
	require.Equal(t, 3, published.Number)

	v2, err := s.GetVersion(ctx, defID, 2)
	require.NoError(t, err)
	require.False(t, v2.Published)
	require.NotNil(t, v2.Model)
	require.Len(t, v2.Model.Activities, 2)

	require.ErrorIs(t, s.PublishVersion(ctx, defID, 9), backend.ErrVersionNotFound)
}

func testInstanceRoundTrip(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)
	instance.BusinessKey = "bk-1"
	instance.Active.Add("task-a")
	instance.Active.Add("task-b")
	require.NoError(t, s.UpdateInstance(ctx, instance))

	got, err := s.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceRunning, got.Status)
	require.Equal(t, "bk-1", got.BusinessKey)
	require.Equal(t, []string{"task-a", "task-b"}, got.Active.IDs())

	_, err = s.GetInstance(ctx, uuid.NewString())
	require.ErrorIs(t, err, backend.ErrInstanceNotFound)
}

func testInstanceDuplicate(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)
	require.ErrorIs(t, s.CreateInstance(ctx, instance), backend.ErrInstanceAlreadyExists)
}

func testInstanceCopiesDoNotAlias(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)
	instance.Active = core.NewActiveSet("a", "b", "c")
	require.NoError(t, s.UpdateInstance(ctx, instance))

	// Mutating the caller's record after the write must not reach the store.
	instance.Active.Remove("a")

	got, err := s.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got.Active.IDs())

	// Neither must mutating a returned record.
	got.Active.Remove("b")
	got.Status = core.InstanceSuspended

	again, err := s.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, again.Active.IDs())
	require.Equal(t, core.InstanceRunning, again.Status)
}

func testLockAcquireRelease(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)
	until := time.Now().Add(time.Minute)

	require.NoError(t, s.AcquireLock(ctx, instance.ID, "holder-1", until))
	require.ErrorIs(t, s.AcquireLock(ctx, instance.ID, "holder-2", until), backend.ErrLockContention)

	require.NoError(t, s.ReleaseLock(ctx, instance.ID, "holder-1"))
	require.NoError(t, s.AcquireLock(ctx, instance.ID, "holder-2", until))

	// releasing with the wrong holder must not clear the lock
	require.NoError(t, s.ReleaseLock(ctx, instance.ID, "holder-1"))
	require.ErrorIs(t, s.AcquireLock(ctx, instance.ID, "holder-3", until), backend.ErrLockContention)
}

func testLockExpiry(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)

	require.NoError(t, s.AcquireLock(ctx, instance.ID, "holder-1", time.Now().Add(20*time.Millisecond)))
	require.ErrorIs(t, s.AcquireLock(ctx, instance.ID, "holder-2", time.Now().Add(time.Minute)), backend.ErrLockContention)

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.AcquireLock(ctx, instance.ID, "holder-2", time.Now().Add(time.Minute)))
}

func testLockReentrantForSameHolder(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)

	require.NoError(t, s.AcquireLock(ctx, instance.ID, "holder-1", time.Now().Add(time.Minute)))
	require.NoError(t, s.AcquireLock(ctx, instance.ID, "holder-1", time.Now().Add(2*time.Minute)))
}

func testActivityInstances(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)

	first := &core.ActivityInstance{
		ID:         uuid.NewString(),
		InstanceID: instance.ID,
		ActivityID: "task-a",
		Status:     core.ActivityActive,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateActivityInstance(ctx, first))

	active, err := s.GetActiveActivityInstance(ctx, instance.ID, "task-a")
	require.NoError(t, err)
	require.Equal(t, first.ID, active.ID)

	first.Status = core.ActivityFailed
	first.Error = "boom"
	first.RetryCount = 1
	require.NoError(t, s.UpdateActivityInstance(ctx, first))

	_, err = s.GetActiveActivityInstance(ctx, instance.ID, "task-a")
	require.ErrorIs(t, err, backend.ErrActivityInstanceNotFound)

	second := &core.ActivityInstance{
		ID:         uuid.NewString(),
		InstanceID: instance.ID,
		ActivityID: "task-a",
		Status:     core.ActivityActive,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateActivityInstance(ctx, second))

	all, err := s.ListActivityInstances(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, first.ID, all[0].ID)
	require.Equal(t, "boom", all[0].Error)
	require.Equal(t, second.ID, all[1].ID)

	got, err := s.GetActivityInstance(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, "task-a", got.ActivityID)
}

func testVariablesReplaceOnSet(t *testing.T, ctx context.Context, s backend.Store) {
	instance := createInstance(t, ctx, s)

	require.NoError(t, s.SetVariables(ctx, instance.ID, map[string]*variable.Value{
		"amount": variable.Decimal(12.5),
		"name":   variable.String("Ada"),
	}))

	require.NoError(t, s.SetVariables(ctx, instance.ID, map[string]*variable.Value{
		"amount": variable.Decimal(20),
	}))

	vars, err := s.GetVariables(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, vars, 2)

	amount, err := vars["amount"].AsDecimal()
	require.NoError(t, err)
	require.Equal(t, 20.0, amount)

	name, err := vars["name"].AsString()
	require.NoError(t, err)
	require.Equal(t, "Ada", name)
}
