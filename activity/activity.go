package activity

import (
	"context"
	"log/slog"

	"github.com/itixo/durabletask/internal/activity"
)

// Logger returns a logger with the orchestration instance and task this activity is executed for set as default
// fields. Outside of an activity it returns slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if as := activity.GetActivityState(ctx); as != nil {
		return as.Logger
	}

	return slog.Default()
}

// InstanceID returns the id of the orchestration instance that scheduled the running activity.
func InstanceID(ctx context.Context) string {
	if as := activity.GetActivityState(ctx); as != nil {
		return as.InstanceID
	}

	return ""
}

// Attempt returns the attempt number of the running activity, starting at 1.
func Attempt(ctx context.Context) int {
	if as := activity.GetActivityState(ctx); as != nil {
		return as.Attempt
	}

	return 0
}
