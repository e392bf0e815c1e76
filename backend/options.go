package backend

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/converter"
	"github.com/MontaserZalloum90/XenonClinic-sub004/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter is used for serializing and deserializing object and array
	// variables. If not explicitly set, converter.DefaultConverter is used.
	Converter converter.Converter

	// InstanceLockTimeout determines how long one engine operation may hold
	// the exclusive instance lock. A crashed holder is considered expired
	// after this duration; expiry is the sole liveness mechanism.
	InstanceLockTimeout time.Duration
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) Option {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(c converter.Converter) Option {
	return func(o *Options) {
		o.Converter = c
	}
}

func WithInstanceLockTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.InstanceLockTimeout = timeout
	}
}

func ApplyOptions(opts ...Option) *Options {
	options := &Options{
		Logger:              slog.Default(),
		Metrics:             metrics.NewNoopClient(),
		TracerProvider:      noop.NewTracerProvider(),
		Converter:           converter.DefaultConverter,
		InstanceLockTimeout: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(options)
	}

	return options
}
