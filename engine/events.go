package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/internal/metrickeys"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/scheduler"
)

// correlationName returns the signal name an intermediate catch event waits
// for. Timer events use a synthetic name derived from the activity id, which
// the timer subsystem signals back when the timer fires.
func correlationName(activity *model.Activity) string {
	if activity.Signal != "" {
		return activity.Signal
	}

	if activity.Timer != nil {
		return "timer:" + activity.ID
	}

	return activity.ID
}

// activateCatchEvent registers any attached timer and leaves the activity
// waiting for its correlated signal.
func (r *run) activateCatchEvent(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity) error {
	if activity.Timer == nil {
		return nil
	}

	fireAt, err := r.timerFireAt(ctx, activity)
	if err != nil {
		return r.failInstance(ctx, &ConfigurationError{ActivityID: activity.ID, Message: err.Error()})
	}

	timer := &scheduler.Timer{
		ID:                 uuid.NewString(),
		InstanceID:         r.instance.ID,
		ActivityInstanceID: ai.ID,
		Signal:             correlationName(activity),
		FireAt:             fireAt,
	}
	if err := r.e.options.timers.Schedule(ctx, timer); err != nil {
		return fmt.Errorf("scheduling timer: %w", err)
	}

	r.e.metrics.Counter(metrickeys.TimersScheduled, nil, 1)

	return nil
}

func (r *run) timerFireAt(ctx context.Context, activity *model.Activity) (time.Time, error) {
	timer := activity.Timer

	if timer.FireAt != nil {
		return *timer.FireAt, nil
	}

	expression := timer.DurationExpr
	if expression == "" {
		expression = timer.CycleExpr
	}
	if expression == "" {
		return time.Time{}, fmt.Errorf("timer defines neither fire-at, duration, nor cycle")
	}

	vars, err := r.evalContext(ctx)
	if err != nil {
		return time.Time{}, err
	}

	now := r.e.options.clock.Now().UTC()

	result, err := r.e.options.evaluator.Evaluate(expression, vars)
	if err != nil {
		return time.Time{}, fmt.Errorf("evaluating timer expression: %v", err)
	}

	switch v := result.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timer duration %q: %v", v, err)
		}

		return now.Add(d), nil
	case int:
		return now.Add(time.Duration(v) * time.Second), nil
	case int64:
		return now.Add(time.Duration(v) * time.Second), nil
	case float64:
		return now.Add(time.Duration(v * float64(time.Second))), nil
	default:
		return time.Time{}, fmt.Errorf("timer expression yielded %T, expected duration", result)
	}
}

// executeThrowEvent emits the event's signal and completes immediately.
// Delivery is the emitter's concern; emission failures do not fail the
// instance.
func (r *run) executeThrowEvent(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, scope *model.Scope) error {
	vars, err := r.evalContext(ctx)
	if err != nil {
		return err
	}

	if err := r.e.options.emitter.Emit(ctx, r.instance.ID, correlationName(activity), vars); err != nil {
		r.e.logger.WarnContext(ctx, "emitting signal",
			slog.String("instance_id", r.instance.ID),
			slog.String("signal", correlationName(activity)),
			slog.Any("error", err))
	}

	return r.completeAndFollow(ctx, ai, activity, scope, nil)
}
