package activity

import (
	"context"
	"log/slog"

	"github.com/itixo/durabletask/internal/log"
)

type ActivityState struct {
	InstanceID string
	TaskID     int64
	Name       string
	Attempt    int
	Logger     *slog.Logger
}

func NewActivityState(instanceID string, taskID int64, name string, attempt int, logger *slog.Logger) *ActivityState {
	return &ActivityState{
		InstanceID: instanceID,
		TaskID:     taskID,
		Name:       name,
		Attempt:    attempt,
		Logger: logger.With(
			log.InstanceIDKey, instanceID,
			log.TaskIDKey, taskID,
			log.ActivityNameKey, name,
			log.AttemptKey, attempt,
		),
	}
}

type key int

var activityCtxKey key

func WithActivityState(ctx context.Context, as *ActivityState) context.Context {
	return context.WithValue(ctx, activityCtxKey, as)
}

// GetActivityState returns the state of the activity executing with ctx, or nil outside of an activity.
func GetActivityState(ctx context.Context) *ActivityState {
	as, _ := ctx.Value(activityCtxKey).(*ActivityState)
	return as
}
