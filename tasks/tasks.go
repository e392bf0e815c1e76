// Package tasks defines the human task sink the engine hands user tasks to.
// Listing, claiming, and commenting on tasks are concerns of the consuming
// task service; the engine only creates and cancels tasks.
package tasks

import (
	"context"
	"time"
)

type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one human task created for a user-task activity.
type Task struct {
	ID                 string     `json:"id"`
	InstanceID         string     `json:"instance_id"`
	ActivityInstanceID string     `json:"activity_instance_id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Assignee           string     `json:"assignee,omitempty"`
	CandidateGroup     string     `json:"candidate_group,omitempty"`
	FormKey            string     `json:"form_key,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	Status             TaskStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Sink receives human tasks from the engine. Task completion flows back into
// the engine through its task-completion operation, not through the sink.
type Sink interface {
	// Create stores a new open task and returns its id.
	Create(ctx context.Context, task *Task) (string, error)

	// Cancel marks all open tasks of the given activity instance cancelled.
	Cancel(ctx context.Context, instanceID, activityInstanceID string) error
}
