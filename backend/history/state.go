package history

import (
	"github.com/itixo/durabletask/core"
)

// ApplyToInstance derives the mutable state of an instance from its durable history. The instance is
// Pending while the history is empty, Running once OrchestratorStarted has been recorded, and carries
// the terminal status of the OrchestratorCompleted event once that exists.
func ApplyToInstance(instance *core.OrchestrationInstance, events []*Event) {
	instance.Status = core.InstanceStatusPending
	instance.Output = nil
	instance.Error = ""

	if len(events) == 0 {
		instance.LastUpdatedAt = instance.CreatedAt
		return
	}

	instance.LastUpdatedAt = events[len(events)-1].Timestamp

	for _, e := range events {
		switch e.Type {
		case EventType_OrchestratorStarted:
			instance.Status = core.InstanceStatusRunning

		case EventType_OrchestratorCompleted:
			a := e.Attributes.(*OrchestratorCompletedAttributes)
			instance.Status = a.Status
			if a.Status == core.InstanceStatusCompleted {
				instance.Output = a.Result
			}
			if a.Error != nil {
				instance.Error = a.Error.Message
			}
		}
	}
}

// Finished returns true if the history contains the terminal OrchestratorCompleted event.
func Finished(events []*Event) bool {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == EventType_OrchestratorCompleted {
			return true
		}
	}

	return false
}

// ScheduledTask returns the TaskScheduled event for the given task id, or nil.
func ScheduledTask(events []*Event, taskID int64) *Event {
	for _, e := range events {
		if e.Type == EventType_TaskScheduled && e.TaskID == taskID {
			return e
		}
	}

	return nil
}

// HasTaskResult returns true if a TaskCompleted or TaskFailed event exists for the given task id.
func HasTaskResult(events []*Event, taskID int64) bool {
	for _, e := range events {
		if (e.Type == EventType_TaskCompleted || e.Type == EventType_TaskFailed) && e.TaskID == taskID {
			return true
		}
	}

	return false
}

// OutstandingTasks returns the TaskScheduled events without a recorded result, in history order.
func OutstandingTasks(events []*Event) []*Event {
	done := make(map[int64]bool)
	for _, e := range events {
		if e.Type == EventType_TaskCompleted || e.Type == EventType_TaskFailed {
			done[e.TaskID] = true
		}
	}

	outstanding := make([]*Event, 0)
	for _, e := range events {
		if e.Type == EventType_TaskScheduled && !done[e.TaskID] {
			outstanding = append(outstanding, e)
		}
	}

	return outstanding
}
