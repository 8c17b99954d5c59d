package backend

import (
	"log/slog"
	"time"

	"github.com/itixo/durabletask/backend/converter"
	mi "github.com/itixo/durabletask/internal/metrics"
	"github.com/itixo/durabletask/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter is the converter to use for serializing and deserializing inputs and results. If not explicitly set
	// converter.DefaultConverter is used.
	Converter converter.Converter

	// ActivityLockTimeout determines how long a dispatched activity may run without reporting a result. After
	// that it's considered abandoned and dispatched again.
	ActivityLockTimeout time.Duration
}

var DefaultOptions Options = Options{
	ActivityLockTimeout: time.Minute * 2,

	Logger:         slog.Default(),
	Metrics:        mi.NewNoopMetricsClient(),
	TracerProvider: noop.NewTracerProvider(),
	Converter:      converter.DefaultConverter,
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(converter converter.Converter) BackendOption {
	return func(o *Options) {
		o.Converter = converter
	}
}

func WithActivityLockTimeout(timeout time.Duration) BackendOption {
	return func(o *Options) {
		o.ActivityLockTimeout = timeout
	}
}

func ApplyOptions(opts ...BackendOption) Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return options
}

// Tracer returns the tracer of the configured trace provider
func (o *Options) Tracer() trace.Tracer {
	return o.TracerProvider.Tracer(TracerName)
}
