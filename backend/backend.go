package backend

import (
	"context"
	"errors"
	"time"

	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

var (
	ErrDefinitionNotFound       = errors.New("process definition not found")
	ErrVersionNotFound          = errors.New("process version not found")
	ErrInstanceNotFound         = errors.New("process instance not found")
	ErrActivityInstanceNotFound = errors.New("activity instance not found")
	ErrInstanceAlreadyExists    = errors.New("process instance already exists")

	// ErrLockContention is returned when an instance is locked by another
	// non-expired holder. Callers may retry once the lock is released or
	// has expired.
	ErrLockContention = errors.New("process instance locked by another operation")
)

const TracerName = "process-engine"

// Store is the persistence boundary of the engine: process definitions and
// versions, process instances with their lock fields, activity instances,
// and variables.
type Store interface {
	// CreateDefinition stores a new process definition.
	CreateDefinition(ctx context.Context, def *model.ProcessDefinition) error

	// GetDefinition returns the definition for the given tenant and key.
	GetDefinition(ctx context.Context, tenant, key string) (*model.ProcessDefinition, error)

	// CreateVersion stores a new immutable process version.
	CreateVersion(ctx context.Context, version *model.ProcessVersion) error

	// GetVersion returns one specific version of a definition.
	GetVersion(ctx context.Context, definitionID string, number int) (*model.ProcessVersion, error)

	// GetPublishedVersion returns the version currently published as the
	// default execution target for the definition.
	GetPublishedVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error)

	// GetLatestVersion returns the version with the highest number.
	GetLatestVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error)

	// PublishVersion marks the given version as published, unpublishing any
	// previously published version of the same definition.
	PublishVersion(ctx context.Context, definitionID string, number int) error

	// CreateInstance stores a new process instance.
	CreateInstance(ctx context.Context, instance *core.Instance) error

	// GetInstance returns the process instance with the given id.
	GetInstance(ctx context.Context, id string) (*core.Instance, error)

	// UpdateInstance persists the given process instance.
	UpdateInstance(ctx context.Context, instance *core.Instance) error

	// AcquireLock atomically sets (holder, until) on the instance if no
	// non-expired lock holder exists. Returns ErrLockContention otherwise.
	AcquireLock(ctx context.Context, instanceID, holder string, until time.Time) error

	// ReleaseLock clears the lock if it is held by the given holder.
	ReleaseLock(ctx context.Context, instanceID, holder string) error

	// CreateActivityInstance stores a new activity instance.
	CreateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error

	// GetActivityInstance returns the activity instance with the given id.
	GetActivityInstance(ctx context.Context, id string) (*core.ActivityInstance, error)

	// GetActiveActivityInstance returns the single active activity instance
	// for the given (instance, activity id), or ErrActivityInstanceNotFound.
	GetActiveActivityInstance(ctx context.Context, instanceID, activityID string) (*core.ActivityInstance, error)

	// ListActivityInstances returns all activity instances of the given
	// process instance, oldest first.
	ListActivityInstances(ctx context.Context, instanceID string) ([]*core.ActivityInstance, error)

	// UpdateActivityInstance persists the given activity instance.
	UpdateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error

	// GetVariables returns all current variables of the instance.
	GetVariables(ctx context.Context, instanceID string) (map[string]*variable.Value, error)

	// SetVariables writes the given variables, replacing existing values
	// with the same names.
	SetVariables(ctx context.Context, instanceID string, vars map[string]*variable.Value) error

	// Options returns the configured options for the store.
	Options() *Options

	// Close closes any underlying resources.
	Close() error
}
