package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/internal/metrickeys"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/scheduler"
	"github.com/MontaserZalloum90/XenonClinic-sub004/tasks"
)

// createUserTask hands a human task to the task sink. The activity instance
// stays active until the external task-completion call resumes it.
func (r *run) createUserTask(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity) error {
	vars, err := r.evalContext(ctx)
	if err != nil {
		return err
	}

	name := r.resolveString(activity.Name, vars)
	if name == "" {
		name = activity.ID
	}

	task := &tasks.Task{
		InstanceID:         r.instance.ID,
		ActivityInstanceID: ai.ID,
		Name:               name,
		Description:        r.resolveString(activity.Description, vars),
		Assignee:           r.resolveString(activity.Assignee, vars),
		CandidateGroup:     r.resolveString(activity.CandidateGroup, vars),
		FormKey:            activity.FormKey,
		CreatedAt:          r.e.options.clock.Now().UTC(),
	}

	if activity.DueDateExpr != "" {
		if due := r.resolveTime(activity.DueDateExpr, vars); due != nil {
			task.DueDate = due
		}
	}

	if _, err := r.e.options.taskSink.Create(ctx, task); err != nil {
		return r.handleActivityError(ctx, ai, activity, &ActivityError{ActivityID: activity.ID, Err: err})
	}

	r.e.metrics.Counter(metrickeys.TasksCreated, nil, 1)

	return nil
}

// resolveString evaluates the given text as an expression against the
// variables; if evaluation fails or yields a non-string, the text is used
// literally.
func (r *run) resolveString(text string, vars map[string]any) string {
	if text == "" {
		return ""
	}

	result, err := r.e.options.evaluator.Evaluate(text, vars)
	if err != nil {
		return text
	}

	if s, ok := result.(string); ok {
		return s
	}

	return text
}

func (r *run) resolveTime(expression string, vars map[string]any) *time.Time {
	result, err := r.e.options.evaluator.Evaluate(expression, vars)
	if err != nil {
		return nil
	}

	switch t := result.(type) {
	case time.Time:
		return &t
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return &parsed
		}
	}

	return nil
}

// executeServiceTask invokes the registered service handler, or enqueues a
// background job for async tasks.
func (r *run) executeServiceTask(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, scope *model.Scope) error {
	if activity.Async {
		job := &scheduler.Job{
			ID:                 uuid.NewString(),
			InstanceID:         r.instance.ID,
			ActivityInstanceID: ai.ID,
			Type:               scheduler.JobServiceTask,
			NotBefore:          r.e.options.clock.Now().UTC(),
		}
		if err := r.e.options.jobs.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueueing service task job: %w", err)
		}

		// Stays active until the job processor completes it.
		return nil
	}

	outputs, execErr := r.invokeService(ctx, activity)
	if execErr != nil {
		return r.handleActivityError(ctx, ai, activity, execErr)
	}

	if err := r.setOutputs(ctx, outputs); err != nil {
		return err
	}

	return r.completeAndFollow(ctx, ai, activity, scope, nil)
}

// invokeService calls the handler registered for the activity's service
// name. Panics are captured with their stack and reported as activity
// errors.
func (r *run) invokeService(ctx context.Context, activity *model.Activity) (outputs map[string]any, err error) {
	handler, ok := r.e.options.services[activity.Service]
	if !ok {
		return nil, &ActivityError{ActivityID: activity.ID, Err: fmt.Errorf("no service handler registered for %q", activity.Service)}
	}

	vars, err := r.evalContext(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if v := recover(); v != nil {
			err = &ActivityError{ActivityID: activity.ID, Err: newPanicError(v)}
		}
	}()

	outputs, invokeErr := handler(ctx, vars)
	if invokeErr != nil {
		return nil, &ActivityError{ActivityID: activity.ID, Err: invokeErr}
	}

	return outputs, nil
}

// executeScriptTask evaluates the script against the current variables and
// optionally stores its result.
func (r *run) executeScriptTask(ctx context.Context, ai *core.ActivityInstance, activity *model.Activity, scope *model.Scope) error {
	vars, err := r.evalContext(ctx)
	if err != nil {
		return err
	}

	result, evalErr := r.e.options.evaluator.Evaluate(activity.Script, vars)
	if evalErr != nil {
		return r.handleActivityError(ctx, ai, activity, &ActivityError{ActivityID: activity.ID, Err: evalErr})
	}

	if activity.ResultVariable != "" {
		if err := r.setOutputs(ctx, map[string]any{activity.ResultVariable: result}); err != nil {
			return err
		}
	}

	return r.completeAndFollow(ctx, ai, activity, scope, nil)
}
