package activitytester

import (
	"context"
	"log/slog"

	"github.com/itixo/durabletask/internal/activity"
)

// WithActivityTestState returns a context with an activity state attached that can be used for unit testing
// activities. The state reports the first attempt of the given task.
func WithActivityTestState(ctx context.Context, instanceID string, taskID int64, name string, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}

	return activity.WithActivityState(ctx, activity.NewActivityState(instanceID, taskID, name, 1, logger))
}
