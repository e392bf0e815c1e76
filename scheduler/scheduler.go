// Package scheduler defines the asynchronous collaborators the engine hands
// deferred work to: background jobs (retries, async service tasks) and
// timers. Both fire by calling back into the engine.
package scheduler

import (
	"context"
	"time"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/payload"
)

type JobType string

const (
	JobRetryActivity JobType = "retry-activity"
	JobServiceTask   JobType = "service-task"
)

// Job is one unit of deferred background work.
type Job struct {
	ID                 string          `json:"id"`
	InstanceID         string          `json:"instance_id"`
	ActivityInstanceID string          `json:"activity_instance_id"`
	Type               JobType         `json:"type"`
	Payload            payload.Payload `json:"payload,omitempty"`
	NotBefore          time.Time       `json:"not_before"`
}

// JobScheduler enqueues background jobs for later execution.
type JobScheduler interface {
	Enqueue(ctx context.Context, job *Job) error
}

// Timer is one registered wake-up. When it fires the timer subsystem signals
// the instance with the synthetic correlation name recorded in Signal.
type Timer struct {
	ID                 string          `json:"id"`
	InstanceID         string          `json:"instance_id"`
	ActivityInstanceID string          `json:"activity_instance_id"`
	Signal             string          `json:"signal"`
	FireAt             time.Time       `json:"fire_at"`
	Data               payload.Payload `json:"data,omitempty"`
}

// TimerScheduler registers wake-ups for timer catch events.
type TimerScheduler interface {
	Schedule(ctx context.Context, timer *Timer) error
}
