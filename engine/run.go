package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/internal/metrickeys"
	"github.com/MontaserZalloum90/XenonClinic-sub004/metrics"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/scheduler"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

// run is one synchronous dispatch-and-flow-follow pass over a locked
// instance. It mutates the in-memory instance record and persists it after
// every step; committed steps are not rolled back if a later step fails.
type run struct {
	e        *Engine
	instance *core.Instance
	version  *model.ProcessVersion

	// parent is set while this run executes synchronously inside a parent
	// call activity, sharing the caller's lock chain.
	parent *run
}

// activate dispatches one activation of the given activity. This is the sole
// path by which the active-activity set grows.
func (r *run) activate(ctx context.Context, activityID string) error {
	activity, scope := r.version.Model.Activity(activityID)
	if activity == nil {
		return r.failInstance(ctx, &ConfigurationError{ActivityID: activityID, Message: "activity not found in model"})
	}

	r.e.metrics.Counter(metrickeys.ActivitiesExecuted, metrics.Tags{metrickeys.TagActivityKind: string(activity.Kind)}, 1)

	if activity.Kind == model.KindParallelGateway && isJoin(scope.Model, activity) {
		return r.arriveAtJoin(ctx, activity, scope)
	}

	ai, err := r.activateActivityInstance(ctx, activity.ID)
	if err != nil {
		return err
	}

	return r.execute(ctx, ai, activity, scope)
}

// execute runs the transition rule for the activity's kind. It is entered
// once per activation and again when a failed activity is retried.
func (r *run) execute(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, scope *model.Scope) error {
	switch activity.Kind {
	case model.KindStartEvent:
		return r.completeAndFollow(ctx, ai, activity, scope, nil)

	case model.KindEndEvent:
		return r.completeEndEvent(ctx, ai, activity, scope)

	case model.KindUserTask:
		return r.createUserTask(ctx, ai, activity)

	case model.KindServiceTask:
		return r.executeServiceTask(ctx, ai, activity, scope)

	case model.KindScriptTask:
		return r.executeScriptTask(ctx, ai, activity, scope)

	case model.KindExclusiveGateway:
		return r.executeExclusiveGateway(ctx, ai, activity, scope)

	case model.KindParallelGateway:
		// Fork: follow every outgoing flow.
		return r.completeAndFollow(ctx, ai, activity, scope, nil)

	case model.KindIntermediateCatchEvent:
		return r.activateCatchEvent(ctx, ai, activity)

	case model.KindIntermediateThrowEvent:
		return r.executeThrowEvent(ctx, ai, activity, scope)

	case model.KindSubProcess:
		return r.enterSubProcess(ctx, activity)

	case model.KindCallActivity:
		return r.startCallActivity(ctx, ai, activity)

	default:
		return r.failInstance(ctx, &ConfigurationError{ActivityID: activity.ID, Message: fmt.Sprintf("unknown activity kind %q", activity.Kind)})
	}
}

// activateActivityInstance records a new active activity instance and adds
// its activity id to the active set. If an active instance already exists
// for the activity, activation is idempotent and reuses it.
func (r *run) activateActivityInstance(ctx context.Context, activityID string) (*core.ActivityInstance, error) {
	existing, err := r.e.store.GetActiveActivityInstance(ctx, r.instance.ID, activityID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, backend.ErrActivityInstanceNotFound) {
		return nil, err
	}

	ai := &core.ActivityInstance{
		ID:         uuid.NewString(),
		InstanceID: r.instance.ID,
		ActivityID: activityID,
		Status:     core.ActivityActive,
		CreatedAt:  r.e.options.clock.Now().UTC(),
	}

	if err := r.e.store.CreateActivityInstance(ctx, ai); err != nil {
		return nil, fmt.Errorf("creating activity instance: %w", err)
	}

	r.instance.Active.Add(activityID)
	if err := r.e.store.UpdateInstance(ctx, r.instance); err != nil {
		return nil, fmt.Errorf("updating active set: %w", err)
	}

	return ai, nil
}

// completeAndFollow completes the given activity instance and dispatches the
// targets of its outgoing flows. A nil flows argument follows every outgoing
// flow; gateways pass the selected subset.
func (r *run) completeAndFollow(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, scope *model.Scope, flows []model.SequenceFlow) error {
	if err := r.completeActivityInstance(ctx, ai); err != nil {
		return err
	}

	if flows == nil {
		flows = scope.Model.Outgoing(activity.ID)
	}

	for _, flow := range flows {
		if err := r.activate(ctx, flow.Target); err != nil {
			return err
		}

		if r.instance.Status.Terminal() {
			// A terminating end event or model error ended the instance;
			// remaining branches are not followed.
			return nil
		}
	}

	return nil
}

func (r *run) completeActivityInstance(ctx context.Context, ai *core.ActivityInstance) error {
	now := r.e.options.clock.Now().UTC()
	ai.Status = core.ActivityCompleted
	ai.CompletedAt = &now
	if err := r.e.store.UpdateActivityInstance(ctx, ai); err != nil {
		return fmt.Errorf("completing activity instance: %w", err)
	}

	r.instance.Active.Remove(ai.ActivityID)
	if err := r.e.store.UpdateInstance(ctx, r.instance); err != nil {
		return fmt.Errorf("updating active set: %w", err)
	}

	return nil
}

func (r *run) completeEndEvent(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, scope *model.Scope) error {
	if err := r.completeActivityInstance(ctx, ai); err != nil {
		return err
	}

	if activity.Terminating {
		return r.finishInstance(ctx, core.InstanceTerminated)
	}

	if !scope.Root() {
		if r.scopeDrained(scope) {
			return r.completeSubProcess(ctx, scope)
		}

		return nil
	}

	if r.instance.Active.Len() == 0 {
		return r.finishInstance(ctx, core.InstanceCompleted)
	}

	return nil
}

// scopeDrained returns true if no activity of the given sub-process scope
// (including nested scopes) is still in flight.
func (r *run) scopeDrained(scope *model.Scope) bool {
	prefix := scopePath(scope)

	for _, id := range r.instance.Active.IDs() {
		if _, s := r.version.Model.Activity(id); s != nil {
			if strings.HasPrefix(scopePath(s), prefix) {
				return false
			}
		}
	}

	return true
}

func scopePath(s *model.Scope) string {
	if s == nil || s.Root() {
		return "/"
	}

	return scopePath(s.Parent) + s.SubProcessID + "/"
}

func (r *run) completeSubProcess(ctx context.Context, scope *model.Scope) error {
	sub, parentScope := r.version.Model.Activity(scope.SubProcessID)
	if sub == nil {
		return r.failInstance(ctx, &ConfigurationError{ActivityID: scope.SubProcessID, Message: "sub-process not found in model"})
	}

	ai, err := r.e.store.GetActiveActivityInstance(ctx, r.instance.ID, sub.ID)
	if err != nil {
		return fmt.Errorf("resolving sub-process activity instance: %w", err)
	}

	return r.completeAndFollow(ctx, ai, sub, parentScope, nil)
}

// finishInstance moves the instance to a terminal status and, for child
// instances, resumes the parent's call activity.
func (r *run) finishInstance(ctx context.Context, status core.InstanceStatus) error {
	if status == core.InstanceTerminated {
		if err := r.cancelOpenActivities(ctx); err != nil {
			return err
		}
	}

	now := r.e.options.clock.Now().UTC()
	r.instance.Status = status
	r.instance.CompletedAt = &now
	r.instance.Active.Clear()
	if err := r.e.store.UpdateInstance(ctx, r.instance); err != nil {
		return fmt.Errorf("finishing instance: %w", err)
	}

	r.e.metrics.Counter(metrickeys.InstancesCompleted, nil, 1)
	r.e.logger.DebugContext(ctx, "process instance finished",
		slog.String("instance_id", r.instance.ID),
		slog.String("status", string(status)))

	if r.instance.ChildInstance() {
		return r.resumeParent(ctx)
	}

	return nil
}

// failInstance moves the instance to Failed with the triggering error
// recorded. The error is persisted on the instance rather than surfaced to
// the caller, so a failed instance is returned in an inspectable state.
func (r *run) failInstance(ctx context.Context, cause error) error {
	if err := r.cancelOpenActivities(ctx); err != nil {
		return err
	}

	now := r.e.options.clock.Now().UTC()
	r.instance.Status = core.InstanceFailed
	r.instance.Error = cause.Error()
	r.instance.CompletedAt = &now
	r.instance.Active.Clear()
	if err := r.e.store.UpdateInstance(ctx, r.instance); err != nil {
		return fmt.Errorf("failing instance: %w", err)
	}

	r.e.metrics.Counter(metrickeys.InstancesFailed, nil, 1)
	r.e.logger.WarnContext(ctx, "process instance failed",
		slog.String("instance_id", r.instance.ID),
		slog.Any("error", cause))

	if r.instance.ChildInstance() {
		return r.failParent(ctx, cause)
	}

	return nil
}

// cancelOpenActivities cancels every active activity instance and any open
// human tasks attached to them.
func (r *run) cancelOpenActivities(ctx context.Context) error {
	all, err := r.e.store.ListActivityInstances(ctx, r.instance.ID)
	if err != nil {
		return fmt.Errorf("listing activity instances: %w", err)
	}

	now := r.e.options.clock.Now().UTC()
	for _, ai := range all {
		if ai.Status != core.ActivityActive {
			continue
		}

		ai.Status = core.ActivityCancelled
		ai.CompletedAt = &now
		if err := r.e.store.UpdateActivityInstance(ctx, ai); err != nil {
			return fmt.Errorf("cancelling activity instance: %w", err)
		}

		if activity, _ := r.version.Model.Activity(ai.ActivityID); activity != nil && activity.Kind == model.KindUserTask {
			if err := r.e.options.taskSink.Cancel(ctx, r.instance.ID, ai.ID); err != nil {
				return fmt.Errorf("cancelling human task: %w", err)
			}
		}
	}

	return nil
}

// handleActivityError applies the retry policy after an activity execution
// failure: schedule a retry job with exponential backoff, or fail the
// instance once retries are exhausted.
func (r *run) handleActivityError(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, execErr error) error {
	ai.Status = core.ActivityFailed
	ai.Error = execErr.Error()
	if err := r.e.store.UpdateActivityInstance(ctx, ai); err != nil {
		return fmt.Errorf("recording activity failure: %w", err)
	}

	r.e.metrics.Counter(metrickeys.ActivityErrors, metrics.Tags{metrickeys.TagActivityKind: string(activity.Kind)}, 1)

	policy := activity.Retry
	if policy == nil || ai.RetryCount >= policy.MaxAttempts {
		return r.failInstance(ctx, execErr)
	}

	delay := policy.NextDelay(ai.RetryCount)
	job := &scheduler.Job{
		ID:                 uuid.NewString(),
		InstanceID:         r.instance.ID,
		ActivityInstanceID: ai.ID,
		Type:               scheduler.JobRetryActivity,
		NotBefore:          r.e.options.clock.Now().UTC().Add(delay),
	}
	if err := r.e.options.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueueing retry job: %w", err)
	}

	r.e.metrics.Counter(metrickeys.RetriesScheduled, nil, 1)
	r.e.logger.DebugContext(ctx, "scheduled activity retry",
		slog.String("instance_id", r.instance.ID),
		slog.String("activity_id", ai.ActivityID),
		slog.Int("retry_count", ai.RetryCount),
		slog.Duration("delay", delay))

	return nil
}

func (r *run) variables(ctx context.Context) (map[string]*variable.Value, error) {
	return r.e.store.GetVariables(ctx, r.instance.ID)
}

// evalContext returns the decoded variable context for expression
// evaluation.
func (r *run) evalContext(ctx context.Context) (map[string]any, error) {
	vars, err := r.variables(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading variables: %w", err)
	}

	return variable.EvalContext(vars), nil
}

// setOutputs converts dynamically typed outputs into variable values and
// persists them.
func (r *run) setOutputs(ctx context.Context, outputs map[string]any) error {
	if len(outputs) == 0 {
		return nil
	}

	vars := make(map[string]*variable.Value, len(outputs))
	for name, value := range outputs {
		v, err := variable.FromAny(r.e.store.Options().Converter, value)
		if err != nil {
			return fmt.Errorf("converting output %q: %w", name, err)
		}

		vars[name] = v
	}

	return r.e.store.SetVariables(ctx, r.instance.ID, vars)
}
