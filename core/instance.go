package core

import (
	"time"
)

// InstanceStatus is the lifecycle status of a process instance.
type InstanceStatus string

const (
	InstanceRunning    InstanceStatus = "running"
	InstanceSuspended  InstanceStatus = "suspended"
	InstanceCompleted  InstanceStatus = "completed"
	InstanceFailed     InstanceStatus = "failed"
	InstanceCancelled  InstanceStatus = "cancelled"
	InstanceTerminated InstanceStatus = "terminated"
)

// Terminal returns true if no further execution is possible for an instance
// in this status.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceCompleted, InstanceFailed, InstanceCancelled, InstanceTerminated:
		return true
	}

	return false
}

// Instance is one execution of one process version.
type Instance struct {
	// ID is the unique id of this process instance.
	ID string `json:"id"`

	Tenant string `json:"tenant,omitempty"`

	// DefinitionID and Version identify the process version being executed.
	DefinitionID string `json:"definition_id"`
	Version      int    `json:"version"`

	// BusinessKey is a caller-supplied correlation string.
	BusinessKey string `json:"business_key,omitempty"`

	Status InstanceStatus `json:"status"`

	// SuspendReason is set while the instance is suspended.
	SuspendReason string `json:"suspend_reason,omitempty"`

	// Active is the set of activity ids currently in-flight. It is non-empty
	// exactly while the instance is running.
	Active ActiveSet `json:"active"`

	// LockedBy and LockedUntil implement the exclusive, expiring instance
	// lock. A lock is held when LockedBy is non-empty and LockedUntil is in
	// the future.
	LockedBy    string    `json:"locked_by,omitempty"`
	LockedUntil time.Time `json:"locked_until,omitempty"`

	// Parent linkage for call-activity children.
	ParentInstanceID         string `json:"parent_instance_id,omitempty"`
	ParentActivityInstanceID string `json:"parent_activity_instance_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`
}

// ChildInstance returns true if this instance was started by a call activity
// in another instance.
func (i *Instance) ChildInstance() bool {
	return i.ParentInstanceID != ""
}
