package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/internal/metrickeys"
)

// Suspend pauses a running instance. Suspended instances reject signals,
// task completions, and retries until resumed.
func (e *Engine) Suspend(ctx context.Context, instanceID, reason string) error {
	ctx, span := e.tracer.Start(ctx, "Suspend", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
	))
	defer span.End()

	return e.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		instance, err := e.store.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}

		if instance.Status != core.InstanceRunning {
			return newInvalidInstanceState("suspend", instance.Status)
		}

		instance.Status = core.InstanceSuspended
		instance.SuspendReason = reason
		if err := e.store.UpdateInstance(ctx, instance); err != nil {
			return fmt.Errorf("suspending instance: %w", err)
		}

		e.logger.DebugContext(ctx, "suspended instance", "instance_id", instanceID, "reason", reason)

		return nil
	})
}

// Resume returns a suspended instance to the running state.
func (e *Engine) Resume(ctx context.Context, instanceID string) error {
	ctx, span := e.tracer.Start(ctx, "Resume", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
	))
	defer span.End()

	return e.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		instance, err := e.store.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}

		if instance.Status != core.InstanceSuspended {
			return newInvalidInstanceState("resume", instance.Status)
		}

		instance.Status = core.InstanceRunning
		instance.SuspendReason = ""
		if err := e.store.UpdateInstance(ctx, instance); err != nil {
			return fmt.Errorf("resuming instance: %w", err)
		}

		e.logger.DebugContext(ctx, "resumed instance", "instance_id", instanceID)

		return nil
	})
}

// Cancel terminates an instance that has not yet reached a terminal state.
// All open activity instances are cancelled and their user tasks withdrawn.
func (e *Engine) Cancel(ctx context.Context, instanceID string) error {
	ctx, span := e.tracer.Start(ctx, "Cancel", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
	))
	defer span.End()

	return e.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		r, err := e.loadRun(ctx, instanceID)
		if err != nil {
			return err
		}

		if r.instance.Status.Terminal() {
			return newInvalidInstanceState("cancel", r.instance.Status)
		}

		if err := r.cancelOpenActivities(ctx); err != nil {
			return err
		}

		now := e.options.clock.Now().UTC()
		r.instance.Status = core.InstanceCancelled
		r.instance.SuspendReason = ""
		r.instance.CompletedAt = &now
		r.instance.Active.Clear()
		if err := e.store.UpdateInstance(ctx, r.instance); err != nil {
			return fmt.Errorf("cancelling instance: %w", err)
		}

		e.metrics.Counter(metrickeys.InstancesCancelled, nil, 1)
		e.logger.DebugContext(ctx, "cancelled instance", "instance_id", instanceID)

		return nil
	})
}
