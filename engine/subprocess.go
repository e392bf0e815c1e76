package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

// enterSubProcess interprets the embedded graph in the same instance: shared
// variable scope, shared lock, nested interpretation on the caller's stack.
// The sub-process activity stays active until its scope drains.
func (r *run) enterSubProcess(ctx context.Context, activity *model.Activity) error {
	if activity.Embedded == nil {
		return r.failInstance(ctx, &ConfigurationError{ActivityID: activity.ID, Message: "sub-process has no embedded model"})
	}

	start, err := activity.Embedded.StartEvent()
	if err != nil {
		return r.failInstance(ctx, &ConfigurationError{ActivityID: activity.ID, Message: fmt.Sprintf("sub-process: %v", err)})
	}

	return r.activate(ctx, start.ID)
}

// startCallActivity starts a fresh child instance of another process and
// links it back, so the child's completion resumes this activity.
func (r *run) startCallActivity(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity) error {
	childVars, err := r.callActivityInputs(ctx, activity)
	if err != nil {
		return err
	}

	_, err = r.e.start(ctx, StartOptions{
		Tenant:    r.instance.Tenant,
		Key:       activity.CalledProcessKey,
		Variables: childVars,
	}, r.instance.ID, ai.ID, r)
	if err != nil {
		if errors.Is(err, backend.ErrDefinitionNotFound) || errors.Is(err, backend.ErrVersionNotFound) {
			return r.failInstance(ctx, &ConfigurationError{
				ActivityID: activity.ID,
				Message:    fmt.Sprintf("called process %q not found", activity.CalledProcessKey),
			})
		}

		return fmt.Errorf("starting called process %q: %w", activity.CalledProcessKey, err)
	}

	return nil
}

// callActivityInputs maps parent variables into the child instance. Without
// explicit input mappings the whole variable scope is passed along.
func (r *run) callActivityInputs(ctx context.Context, activity *model.Activity) (map[string]*variable.Value, error) {
	if len(activity.InputMappings) == 0 {
		return r.variables(ctx)
	}

	vars, err := r.evalContext(ctx)
	if err != nil {
		return nil, err
	}

	inputs := make(map[string]*variable.Value, len(activity.InputMappings))
	for childName, expression := range activity.InputMappings {
		result, err := r.e.options.evaluator.Evaluate(expression, vars)
		if err != nil {
			return nil, fmt.Errorf("evaluating input mapping for %q: %w", childName, err)
		}

		value, err := variable.FromAny(r.e.store.Options().Converter, result)
		if err != nil {
			return nil, fmt.Errorf("converting input mapping for %q: %w", childName, err)
		}

		inputs[childName] = value
	}

	return inputs, nil
}

// resumeParent completes the parent's call activity after this child
// instance finished. When the child completed synchronously inside the
// parent's own dispatch, the parent run is resumed in place; otherwise the
// parent's lock is acquired first.
func (r *run) resumeParent(ctx context.Context) error {
	child := r.instance

	if r.parent != nil {
		return r.parent.completeCallActivity(ctx, child)
	}

	return r.e.withInstanceLock(ctx, child.ParentInstanceID, func(ctx context.Context) error {
		parent, err := r.e.loadRun(ctx, child.ParentInstanceID)
		if err != nil {
			return err
		}

		if parent.instance.Status != core.InstanceRunning {
			r.e.logger.DebugContext(ctx, "parent instance no longer running, not resuming",
				slog.String("instance_id", child.ParentInstanceID),
				slog.String("status", string(parent.instance.Status)))
			return nil
		}

		return parent.completeCallActivity(ctx, child)
	})
}

// failParent reports this child instance's failure on the parent's call
// activity, mirroring the locking rules of resumeParent.
func (r *run) failParent(ctx context.Context, cause error) error {
	child := r.instance

	if r.parent != nil {
		return r.parent.failCallActivity(ctx, child, cause)
	}

	return r.e.withInstanceLock(ctx, child.ParentInstanceID, func(ctx context.Context) error {
		parent, err := r.e.loadRun(ctx, child.ParentInstanceID)
		if err != nil {
			return err
		}

		if parent.instance.Status != core.InstanceRunning {
			r.e.logger.DebugContext(ctx, "parent instance no longer running, not reporting child failure",
				slog.String("instance_id", child.ParentInstanceID),
				slog.String("status", string(parent.instance.Status)))
			return nil
		}

		return parent.failCallActivity(ctx, child, cause)
	})
}

// failCallActivity runs the call activity's retry policy for a failed child,
// so a retried call activity starts a fresh child instance.
func (r *run) failCallActivity(ctx context.Context, child *core.Instance, cause error) error {
	ai, err := r.e.store.GetActivityInstance(ctx, child.ParentActivityInstanceID)
	if err != nil {
		return fmt.Errorf("resolving call activity instance: %w", err)
	}

	if ai.Status != core.ActivityActive {
		return nil
	}

	activity, _ := r.version.Model.Activity(ai.ActivityID)
	if activity == nil {
		return r.failInstance(ctx, &ConfigurationError{ActivityID: ai.ActivityID, Message: "call activity not found in model"})
	}

	return r.handleActivityError(ctx, ai, activity, &ActivityError{
		ActivityID: activity.ID,
		Err:        fmt.Errorf("called process %q failed: %w", activity.CalledProcessKey, cause),
	})
}

// completeCallActivity maps child outputs into this instance's variables and
// completes the call activity to resume the flow.
func (r *run) completeCallActivity(ctx context.Context, child *core.Instance) error {
	ai, err := r.e.store.GetActivityInstance(ctx, child.ParentActivityInstanceID)
	if err != nil {
		return fmt.Errorf("resolving call activity instance: %w", err)
	}

	if ai.Status != core.ActivityActive {
		// The parent moved on, e.g. it was cancelled while the child ran.
		return nil
	}

	activity, scope := r.version.Model.Activity(ai.ActivityID)
	if activity == nil {
		return r.failInstance(ctx, &ConfigurationError{ActivityID: ai.ActivityID, Message: "call activity not found in model"})
	}

	if len(activity.OutputMappings) > 0 {
		childVars, err := r.e.store.GetVariables(ctx, child.ID)
		if err != nil {
			return fmt.Errorf("loading child variables: %w", err)
		}

		childCtx := variable.EvalContext(childVars)
		outputs := make(map[string]any, len(activity.OutputMappings))
		for parentName, expression := range activity.OutputMappings {
			result, err := r.e.options.evaluator.Evaluate(expression, childCtx)
			if err != nil {
				return fmt.Errorf("evaluating output mapping for %q: %w", parentName, err)
			}

			outputs[parentName] = result
		}

		if err := r.setOutputs(ctx, outputs); err != nil {
			return err
		}
	}

	return r.completeAndFollow(ctx, ai, activity, scope, nil)
}
