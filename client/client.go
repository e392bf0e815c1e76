// Package client is the embedding API of the process engine: deploying
// process models, starting and steering instances, and waiting for results.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/engine"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

// ErrWaitTimeout is returned when an instance does not reach a terminal
// status within the wait timeout.
var ErrWaitTimeout = errors.New("process instance did not finish in time")

type Client struct {
	store  backend.Store
	engine *engine.Engine
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
}

func New(store backend.Store, opts ...engine.Option) *Client {
	return &Client{
		store:  store,
		engine: engine.New(store, opts...),
		logger: store.Options().Logger,
		tracer: store.Options().TracerProvider.Tracer(backend.TracerName),
		clock:  clock.New(),
	}
}

// Engine returns the underlying engine, for collaborators that call back
// into it, such as job and timer processors.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// DeployOptions parameterize deploying a process model version.
type DeployOptions struct {
	Tenant string
	Key    string

	// Name is the human-readable definition name, recorded when the
	// definition is first created.
	Name string
}

// Deploy stores the given model as a new version of the process definition
// and publishes it. The definition is created on first deployment; the
// version number is the highest existing number plus one.
func (c *Client) Deploy(ctx context.Context, opts DeployOptions, m *model.ProcessModel) (*model.ProcessVersion, error) {
	ctx, span := c.tracer.Start(ctx, "Deploy", trace.WithAttributes(
		attribute.String("process_key", opts.Key),
	))
	defer span.End()

	def, err := c.store.GetDefinition(ctx, opts.Tenant, opts.Key)
	if errors.Is(err, backend.ErrDefinitionNotFound) {
		def = &model.ProcessDefinition{
			ID:        uuid.NewString(),
			Tenant:    opts.Tenant,
			Key:       opts.Key,
			Name:      opts.Name,
			CreatedAt: c.clock.Now().UTC(),
		}
		if err := c.store.CreateDefinition(ctx, def); err != nil {
			return nil, fmt.Errorf("creating definition: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	number := 1
	latest, err := c.store.GetLatestVersion(ctx, def.ID)
	if err == nil {
		number = latest.Number + 1
	} else if !errors.Is(err, backend.ErrVersionNotFound) {
		return nil, err
	}

	version := &model.ProcessVersion{
		DefinitionID: def.ID,
		Number:       number,
		Model:        m,
		CreatedAt:    c.clock.Now().UTC(),
	}
	if err := c.store.CreateVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}

	if err := c.store.PublishVersion(ctx, def.ID, number); err != nil {
		return nil, fmt.Errorf("publishing version: %w", err)
	}
	version.Published = true

	c.logger.DebugContext(ctx, "deployed process version",
		slog.String("process_key", opts.Key),
		slog.Int("version", number))

	return version, nil
}

// StartInstance starts a new instance of a deployed process.
func (c *Client) StartInstance(ctx context.Context, opts engine.StartOptions) (*core.Instance, error) {
	return c.engine.Start(ctx, opts)
}

// SignalInstance delivers a named signal to a running instance.
func (c *Client) SignalInstance(ctx context.Context, instanceID, name string, vars map[string]*variable.Value) error {
	return c.engine.Signal(ctx, instanceID, name, vars)
}

// CancelInstance cancels a non-terminal instance.
func (c *Client) CancelInstance(ctx context.Context, instanceID string) error {
	return c.engine.Cancel(ctx, instanceID)
}

// GetInstance returns the instance with the given id.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*core.Instance, error) {
	return c.engine.GetInstance(ctx, instanceID)
}

// WaitForInstance polls until the instance reaches a terminal status or the
// timeout expires, and returns the instance in its terminal state.
func (c *Client) WaitForInstance(ctx context.Context, instanceID string, timeout time.Duration) (*core.Instance, error) {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.tracer.Start(ctx, "WaitForInstance", trace.WithAttributes(
		attribute.String("instance_id", instanceID),
	))
	defer span.End()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(&b)
	defer ticker.Stop()

	for range ticker.C {
		instance, err := c.engine.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("getting instance state: %w", err)
		}

		if instance.Status.Terminal() {
			return instance, nil
		}
	}

	return nil, ErrWaitTimeout
}

// GetVariable returns one instance variable decoded into T.
func GetVariable[T any](ctx context.Context, c *Client, instanceID, name string) (T, error) {
	vars, err := c.engine.GetVariables(ctx, instanceID)
	if err != nil {
		return *new(T), err
	}

	value, ok := vars[name]
	if !ok {
		return *new(T), fmt.Errorf("variable %q not set", name)
	}

	var result T
	if err := value.Into(c.store.Options().Converter, &result); err != nil {
		return *new(T), fmt.Errorf("decoding variable %q: %w", name, err)
	}

	return result, nil
}
