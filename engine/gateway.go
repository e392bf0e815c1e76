package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
)

// executeExclusiveGateway selects exactly one outgoing flow: the first flow
// whose condition evaluates truthy in declaration order, falling back to the
// flow marked default. Condition evaluation fails closed, so an evaluation
// error never selects a flow.
func (r *run) executeExclusiveGateway(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, scope *model.Scope) error {
	vars, err := r.evalContext(ctx)
	if err != nil {
		return err
	}

	outgoing := scope.Model.Outgoing(activity.ID)

	var selected *model.SequenceFlow
	var defaultFlow *model.SequenceFlow

	for i := range outgoing {
		flow := &outgoing[i]
		if flow.Default {
			if defaultFlow == nil {
				defaultFlow = flow
			}
			continue
		}

		// A non-default flow without a condition is always taken.
		if flow.Condition == "" || r.e.options.evaluator.EvaluateCondition(flow.Condition, vars) {
			selected = flow
			break
		}
	}

	if selected == nil {
		selected = defaultFlow
	}

	if selected == nil {
		return r.failInstance(ctx, &ConfigurationError{
			ActivityID: activity.ID,
			Message:    "no outgoing flow condition matched and no default flow is defined",
		})
	}

	return r.completeAndFollow(ctx, ai, activity, scope, []model.SequenceFlow{*selected})
}

// isJoin reports whether a parallel gateway merges branches: more incoming
// than outgoing flows. All other parallel gateways fork.
func isJoin(m *model.ProcessModel, activity *model.Activity) bool {
	return len(m.Incoming(activity.ID)) > len(m.Outgoing(activity.ID))
}

// arriveAtJoin records one branch arriving at a parallel join. The join
// completes and follows its outgoing flows once every incoming flow has
// arrived; until then it stays active. Arrivals are counted on the join's
// single active activity instance.
func (r *run) arriveAtJoin(ctx context.Context, activity *model.Activity, scope *model.Scope) error {
	incoming := len(scope.Model.Incoming(activity.ID))

	ai, err := r.e.store.GetActiveActivityInstance(ctx, r.instance.ID, activity.ID)
	switch {
	case errors.Is(err, backend.ErrActivityInstanceNotFound):
		if ai, err = r.activateActivityInstance(ctx, activity.ID); err != nil {
			return err
		}

		ai.JoinArrivals = 1

	case err != nil:
		return fmt.Errorf("resolving join state: %w", err)

	default:
		ai.JoinArrivals++
	}

	if err := r.e.store.UpdateActivityInstance(ctx, ai); err != nil {
		return fmt.Errorf("recording join arrival: %w", err)
	}

	if ai.JoinArrivals < incoming {
		return nil
	}

	return r.completeAndFollow(ctx, ai, activity, scope, nil)
}
