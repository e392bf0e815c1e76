package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/internal/metrickeys"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

// Signal delivers a named signal to the instance. Variables are merged into
// the instance's variable store first; then every active intermediate catch
// event whose correlation name matches is completed, resuming its branch.
// A signal with no matching waiting event is not an error; it is simply not
// consumed.
func (e *Engine) Signal(ctx context.Context, instanceID, name string, vars map[string]*variable.Value) error {
	ctx, span := e.tracer.Start(ctx, "Signal", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
		attribute.String("signal", name),
	))
	defer span.End()

	return e.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		r, err := e.loadRun(ctx, instanceID)
		if err != nil {
			return err
		}

		if r.instance.Status != core.InstanceRunning {
			return newInvalidInstanceState("signal", r.instance.Status)
		}

		if len(vars) > 0 {
			if err := e.store.SetVariables(ctx, instanceID, vars); err != nil {
				return fmt.Errorf("merging signal variables: %w", err)
			}
		}

		type match struct {
			activity *model.Activity
			scope    *model.Scope
		}

		var matches []match
		for _, id := range r.instance.Active.IDs() {
			activity, scope := r.version.Model.Activity(id)
			if activity == nil || activity.Kind != model.KindIntermediateCatchEvent {
				continue
			}

			if correlationName(activity) == name {
				matches = append(matches, match{activity: activity, scope: scope})
			}
		}

		for _, m := range matches {
			ai, err := e.store.GetActiveActivityInstance(ctx, instanceID, m.activity.ID)
			if err != nil {
				return fmt.Errorf("resolving waiting catch event: %w", err)
			}

			if err := r.completeAndFollow(ctx, ai, m.activity, m.scope, nil); err != nil {
				return err
			}

			if r.instance.Status.Terminal() {
				break
			}
		}

		if len(matches) > 0 {
			e.metrics.Counter(metrickeys.SignalsDelivered, nil, 1)
		}

		return nil
	})
}
