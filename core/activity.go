package core

import "time"

// ActivityStatus is the lifecycle status of one activity instance.
type ActivityStatus string

const (
	ActivityActive    ActivityStatus = "active"
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
	ActivityCancelled ActivityStatus = "cancelled"
)

// ActivityInstance is one execution attempt of an activity definition within a
// process instance. For a given (instance, activity id) at most one activity
// instance is active at a time; completed and failed instances accumulate
// across retries and loop iterations.
type ActivityInstance struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`

	// ActivityID is the id of the activity definition in the process model.
	ActivityID string `json:"activity_id"`

	Status ActivityStatus `json:"status"`

	RetryCount int `json:"retry_count"`

	// JoinArrivals counts how many incoming branches have reached a parallel
	// join gateway. Unused for other activity kinds.
	JoinArrivals int `json:"join_arrivals,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`
}
