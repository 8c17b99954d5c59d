package core

import (
	"strconv"
	"time"

	"github.com/itixo/durabletask/backend/payload"
)

// PendingActivityCall is an activity invocation that has been scheduled but whose result has not been
// recorded yet.
type PendingActivityCall struct {
	InstanceID string `json:"instance_id"`

	// TaskID is unique within the instance and correlates the TaskScheduled event with its result.
	TaskID int64 `json:"task_id"`

	Name  string          `json:"name"`
	Input payload.Payload `json:"input,omitempty"`

	DispatchedAt time.Time `json:"dispatched_at"`

	// Attempt counts attempts of the same logical step, starting at 1.
	Attempt int `json:"attempt"`
}

// Key identifies the call across instances.
func (c *PendingActivityCall) Key() string {
	return TaskKey(c.InstanceID, c.TaskID)
}

func TaskKey(instanceID string, taskID int64) string {
	return instanceID + "/" + strconv.FormatInt(taskID, 10)
}
