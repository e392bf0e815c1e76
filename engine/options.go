package engine

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MontaserZalloum90/XenonClinic-sub004/expr"
	"github.com/MontaserZalloum90/XenonClinic-sub004/scheduler"
	"github.com/MontaserZalloum90/XenonClinic-sub004/tasks"
)

// ServiceHandler executes one service task invocation. It receives the
// current variables in decoded form and returns output values merged back
// into the instance's variables.
type ServiceHandler func(ctx context.Context, vars map[string]any) (map[string]any, error)

// EventEmitter receives signals emitted by intermediate throw events.
// Delivery to other instances or external systems is the emitter's concern.
type EventEmitter interface {
	Emit(ctx context.Context, instanceID, signal string, vars map[string]any) error
}

type noopEmitter struct{}

func (noopEmitter) Emit(ctx context.Context, instanceID, signal string, vars map[string]any) error {
	return nil
}

type options struct {
	clock          clock.Clock
	evaluator      expr.Evaluator
	taskSink       tasks.Sink
	jobs           scheduler.JobScheduler
	timers         scheduler.TimerScheduler
	emitter        EventEmitter
	services       map[string]ServiceHandler
	modelCacheSize int
	modelCacheTTL  time.Duration
}

type Option func(*options)

// WithClock sets the time source used for timestamps and retry delays. Lock
// expiry stays on the wall clock, which is what the stores compare against.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithEvaluator sets the expression evaluator.
func WithEvaluator(e expr.Evaluator) Option {
	return func(o *options) {
		o.evaluator = e
	}
}

// WithTaskSink sets the human task sink user tasks are handed to.
func WithTaskSink(sink tasks.Sink) Option {
	return func(o *options) {
		o.taskSink = sink
	}
}

// WithJobScheduler sets the scheduler retries and async service tasks are
// enqueued with.
func WithJobScheduler(jobs scheduler.JobScheduler) Option {
	return func(o *options) {
		o.jobs = jobs
	}
}

// WithTimerScheduler sets the scheduler timer catch events register with.
func WithTimerScheduler(timers scheduler.TimerScheduler) Option {
	return func(o *options) {
		o.timers = timers
	}
}

// WithEventEmitter sets the emitter intermediate throw events publish to.
func WithEventEmitter(emitter EventEmitter) Option {
	return func(o *options) {
		o.emitter = emitter
	}
}

// WithServices sets the registry of service task handlers, keyed by the
// service name referenced in the model. Passed in explicitly; the engine
// holds no global registries.
func WithServices(services map[string]ServiceHandler) Option {
	return func(o *options) {
		o.services = services
	}
}

// WithModelCache sets the size and expiration of the process version cache.
func WithModelCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.modelCacheSize = size
		o.modelCacheTTL = ttl
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{
		clock:          clock.New(),
		evaluator:      expr.NewEvaluator(256, time.Hour),
		taskSink:       tasks.NewInMemorySink(),
		jobs:           scheduler.NewInMemoryJobScheduler(),
		timers:         scheduler.NewInMemoryTimerScheduler(),
		emitter:        noopEmitter{},
		services:       map[string]ServiceHandler{},
		modelCacheSize: 64,
		modelCacheTTL:  time.Hour,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}
