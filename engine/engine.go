// Package engine implements the process execution engine: it loads a process
// version, advances running instances activity by activity, and coordinates
// with the asynchronous collaborators that resume execution later.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/internal/metrickeys"
	"github.com/MontaserZalloum90/XenonClinic-sub004/metrics"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

type Engine struct {
	store   backend.Store
	options *options

	logger  *slog.Logger
	metrics metrics.Client
	tracer  trace.Tracer

	versions *ttlcache.Cache[string, *model.ProcessVersion]
}

func New(store backend.Store, opts ...Option) *Engine {
	o := applyOptions(opts...)

	return &Engine{
		store:   store,
		options: o,
		logger:  store.Options().Logger,
		metrics: store.Options().Metrics,
		tracer:  store.Options().TracerProvider.Tracer(backend.TracerName),
		versions: ttlcache.New(
			ttlcache.WithCapacity[string, *model.ProcessVersion](uint64(o.modelCacheSize)),
			ttlcache.WithTTL[string, *model.ProcessVersion](o.modelCacheTTL),
		),
	}
}

// StartOptions parameterize starting a new process instance.
type StartOptions struct {
	Tenant string

	// Key identifies the process definition to start.
	Key string

	// Version pins a specific version. Zero selects the published version.
	Version int

	// Variables are the initial instance variables.
	Variables map[string]*variable.Value

	// BusinessKey is a caller-supplied correlation string.
	BusinessKey string
}

// Start creates a new process instance for the given process key and
// interprets it until every branch is waiting or the instance is terminal.
// It returns the instance in its state after the initial pass.
func (e *Engine) Start(ctx context.Context, opts StartOptions) (*core.Instance, error) {
	ctx, span := e.tracer.Start(ctx, "Start", trace.WithAttributes(
		attribute.String("process_key", opts.Key),
	))
	defer span.End()

	return e.start(ctx, opts, "", "", nil)
}

func (e *Engine) start(ctx context.Context, opts StartOptions, parentInstanceID, parentActivityInstanceID string, parent *run) (*core.Instance, error) {
	version, err := e.loadVersion(ctx, opts.Tenant, opts.Key, opts.Version)
	if err != nil {
		return nil, err
	}

	now := e.options.clock.Now().UTC()

	instance := &core.Instance{
		ID:                       uuid.NewString(),
		Tenant:                   opts.Tenant,
		DefinitionID:             version.DefinitionID,
		Version:                  version.Number,
		BusinessKey:              opts.BusinessKey,
		Status:                   core.InstanceRunning,
		ParentInstanceID:         parentInstanceID,
		ParentActivityInstanceID: parentActivityInstanceID,
		CreatedAt:                now,
	}

	if err := e.store.CreateInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("creating instance: %w", err)
	}

	if len(opts.Variables) > 0 {
		if err := e.store.SetVariables(ctx, instance.ID, opts.Variables); err != nil {
			return nil, fmt.Errorf("persisting initial variables: %w", err)
		}
	}

	e.metrics.Counter(metrickeys.InstancesStarted, metrics.Tags{metrickeys.TagProcessKey: opts.Key}, 1)
	e.logger.DebugContext(ctx, "starting process instance",
		slog.String("instance_id", instance.ID),
		slog.String("process_key", opts.Key),
		slog.Int("version", version.Number))

	err = e.withInstanceLock(ctx, instance.ID, func(ctx context.Context) error {
		r := &run{e: e, instance: instance, version: version, parent: parent}

		start, err := version.Model.StartEvent()
		if err != nil {
			return r.failInstance(ctx, &ConfigurationError{Message: err.Error()})
		}

		return r.activate(ctx, start.ID)
	})
	if err != nil {
		return nil, err
	}

	return e.store.GetInstance(ctx, instance.ID)
}

// GetInstance returns the process instance with the given id.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*core.Instance, error) {
	return e.store.GetInstance(ctx, instanceID)
}

// GetVariables returns the current variables of the given instance.
func (e *Engine) GetVariables(ctx context.Context, instanceID string) (map[string]*variable.Value, error) {
	return e.store.GetVariables(ctx, instanceID)
}

// ListActivityInstances returns the activity instance history of the given
// process instance, oldest first.
func (e *Engine) ListActivityInstances(ctx context.Context, instanceID string) ([]*core.ActivityInstance, error) {
	return e.store.ListActivityInstances(ctx, instanceID)
}

// withInstanceLock serializes one mutating operation on an instance. The
// lock is released on every exit path; a crashed holder is healed by expiry
// alone.
func (e *Engine) withInstanceLock(ctx context.Context, instanceID string, fn func(ctx context.Context) error) error {
	holder := uuid.NewString()
	// Lock expiry is always wall-clock: the stores compare against their own
	// notion of now (redis expires the lock key server-side), so the
	// injectable clock must not feed it.
	until := time.Now().Add(e.store.Options().InstanceLockTimeout)

	if err := e.store.AcquireLock(ctx, instanceID, holder, until); err != nil {
		if errors.Is(err, backend.ErrLockContention) {
			e.metrics.Counter(metrickeys.LockContention, nil, 1)
		}

		return err
	}

	defer func() {
		// Release even when the caller's context is already cancelled.
		releaseCtx := context.WithoutCancel(ctx)
		if err := e.store.ReleaseLock(releaseCtx, instanceID, holder); err != nil {
			e.logger.ErrorContext(ctx, "releasing instance lock",
				slog.String("instance_id", instanceID),
				slog.Any("error", err))
		}
	}()

	return fn(ctx)
}

// loadVersion resolves the pinned or published version of a process. Only
// pinned lookups are answered from the cache: versions are immutable, but
// the published pointer moves on every publish.
func (e *Engine) loadVersion(ctx context.Context, tenant, key string, number int) (*model.ProcessVersion, error) {
	if number > 0 {
		if cached := e.versions.Get(versionCacheKey(tenant, key, number)); cached != nil {
			return cached.Value(), nil
		}
	}

	def, err := e.store.GetDefinition(ctx, tenant, key)
	if err != nil {
		return nil, err
	}

	var version *model.ProcessVersion
	if number > 0 {
		version, err = e.store.GetVersion(ctx, def.ID, number)
	} else {
		version, err = e.store.GetPublishedVersion(ctx, def.ID)
	}
	if err != nil {
		return nil, err
	}

	e.versions.Set(versionCacheKey(tenant, key, version.Number), version, ttlcache.DefaultTTL)

	return version, nil
}

func versionCacheKey(tenant, key string, number int) string {
	return fmt.Sprintf("%s/%s/%d", tenant, key, number)
}

// loadRun loads the instance and its process version for a resumed
// operation.
func (e *Engine) loadRun(ctx context.Context, instanceID string) (*run, error) {
	instance, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	version, err := e.store.GetVersion(ctx, instance.DefinitionID, instance.Version)
	if err != nil {
		return nil, err
	}

	return &run{e: e, instance: instance, version: version}, nil
}
