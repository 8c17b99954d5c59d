package tester

import (
	"log/slog"
	"time"
)

type options struct {
	Logger    *slog.Logger
	StartTime time.Time
	MaxPasses int
}

type OrchestrationTesterOption func(*options)

func WithLogger(logger *slog.Logger) OrchestrationTesterOption {
	return func(o *options) {
		o.Logger = logger
	}
}

// WithStartTime sets the time of the tester's mock clock when the orchestration starts.
func WithStartTime(t time.Time) OrchestrationTesterOption {
	return func(o *options) {
		o.StartTime = t
	}
}

// WithMaxPasses limits the number of replay passes before Execute gives up. Defaults to 1000.
func WithMaxPasses(n int) OrchestrationTesterOption {
	return func(o *options) {
		o.MaxPasses = n
	}
}
