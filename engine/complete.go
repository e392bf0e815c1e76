package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

// CompleteUserTask resumes a waiting user task from an external task
// completion: output variables are persisted, the activity completes, and
// one outgoing flow is followed. The flow is chosen by the action: a flow
// whose id or name equals the action, falling back to the default flow,
// falling back to the first outgoing flow.
func (e *Engine) CompleteUserTask(ctx context.Context, instanceID, activityInstanceID string, outputs map[string]*variable.Value, action string) error {
	ctx, span := e.tracer.Start(ctx, "CompleteUserTask", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
	))
	defer span.End()

	return e.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		r, err := e.loadRun(ctx, instanceID)
		if err != nil {
			return err
		}

		if r.instance.Status != core.InstanceRunning {
			return newInvalidInstanceState("complete task", r.instance.Status)
		}

		ai, err := e.store.GetActivityInstance(ctx, activityInstanceID)
		if err != nil {
			return err
		}

		if ai.Status != core.ActivityActive {
			return newInvalidActivityState("complete task", ai.Status)
		}

		activity, scope := r.version.Model.Activity(ai.ActivityID)
		if activity == nil || activity.Kind != model.KindUserTask {
			return fmt.Errorf("activity %q is not a user task", ai.ActivityID)
		}

		if len(outputs) > 0 {
			if err := e.store.SetVariables(ctx, instanceID, outputs); err != nil {
				return fmt.Errorf("persisting task outputs: %w", err)
			}
		}

		flow := chooseOutcomeFlow(scope.Model.Outgoing(activity.ID), action)
		if flow == nil {
			return r.failInstance(ctx, &ConfigurationError{ActivityID: activity.ID, Message: "user task has no outgoing flow"})
		}

		return r.completeAndFollow(ctx, ai, activity, scope, []model.SequenceFlow{*flow})
	})
}

// chooseOutcomeFlow picks the outgoing flow for a completed user task: by
// action matching a flow id or name, then the default flow, then the first.
func chooseOutcomeFlow(outgoing []model.SequenceFlow, action string) *model.SequenceFlow {
	if len(outgoing) == 0 {
		return nil
	}

	if action != "" {
		for i := range outgoing {
			if outgoing[i].ID == action || outgoing[i].Name == action {
				return &outgoing[i]
			}
		}
	}

	for i := range outgoing {
		if outgoing[i].Default {
			return &outgoing[i]
		}
	}

	return &outgoing[0]
}

// CompleteActivity completes a waiting activity instance from an external
// caller, typically the job processor finishing an async service task.
func (e *Engine) CompleteActivity(ctx context.Context, instanceID, activityInstanceID string, outputs map[string]*variable.Value) error {
	ctx, span := e.tracer.Start(ctx, "CompleteActivity", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
	))
	defer span.End()

	return e.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		r, err := e.loadRun(ctx, instanceID)
		if err != nil {
			return err
		}

		if r.instance.Status != core.InstanceRunning {
			return newInvalidInstanceState("complete activity", r.instance.Status)
		}

		ai, err := e.store.GetActivityInstance(ctx, activityInstanceID)
		if err != nil {
			return err
		}

		if ai.Status != core.ActivityActive {
			return newInvalidActivityState("complete activity", ai.Status)
		}

		activity, scope := r.version.Model.Activity(ai.ActivityID)
		if activity == nil {
			return r.failInstance(ctx, &ConfigurationError{ActivityID: ai.ActivityID, Message: "activity not found in model"})
		}

		if len(outputs) > 0 {
			if err := e.store.SetVariables(ctx, instanceID, outputs); err != nil {
				return fmt.Errorf("persisting activity outputs: %w", err)
			}
		}

		return r.completeAndFollow(ctx, ai, activity, scope, nil)
	})
}

// RetryActivity resets a failed activity instance to active and dispatches
// it again. This is the callback target of scheduled retry jobs.
func (e *Engine) RetryActivity(ctx context.Context, instanceID, activityInstanceID string) error {
	ctx, span := e.tracer.Start(ctx, "RetryActivity", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
	))
	defer span.End()

	return e.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		r, err := e.loadRun(ctx, instanceID)
		if err != nil {
			return err
		}

		if r.instance.Status != core.InstanceRunning {
			return newInvalidInstanceState("retry activity", r.instance.Status)
		}

		ai, err := e.store.GetActivityInstance(ctx, activityInstanceID)
		if err != nil {
			return err
		}

		if ai.Status != core.ActivityFailed {
			return newInvalidActivityState("retry activity", ai.Status)
		}

		activity, scope := r.version.Model.Activity(ai.ActivityID)
		if activity == nil {
			return r.failInstance(ctx, &ConfigurationError{ActivityID: ai.ActivityID, Message: "activity not found in model"})
		}

		ai.Status = core.ActivityActive
		ai.RetryCount++
		ai.Error = ""
		if err := e.store.UpdateActivityInstance(ctx, ai); err != nil {
			return fmt.Errorf("resetting activity instance: %w", err)
		}

		return r.execute(ctx, ai, activity, scope)
	})
}
