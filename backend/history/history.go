package history

import (
	"time"

	"github.com/google/uuid"
)

type EventType uint

const (
	_ EventType = iota

	// EventType_OrchestratorStarted is recorded once, when an instance is run for the first time.
	EventType_OrchestratorStarted

	EventType_TaskScheduled
	EventType_TaskCompleted
	EventType_TaskFailed

	// EventType_SideEffectRecorded stores the result of a non-deterministic call made by orchestration code.
	EventType_SideEffectRecorded

	// EventType_TerminationRequested is appended on an external termination request.
	EventType_TerminationRequested

	// EventType_OrchestratorCompleted is the terminal event of every instance.
	EventType_OrchestratorCompleted
)

func (et EventType) String() string {
	switch et {
	case EventType_OrchestratorStarted:
		return "OrchestratorStarted"
	case EventType_TaskScheduled:
		return "TaskScheduled"
	case EventType_TaskCompleted:
		return "TaskCompleted"
	case EventType_TaskFailed:
		return "TaskFailed"
	case EventType_SideEffectRecorded:
		return "SideEffectRecorded"
	case EventType_TerminationRequested:
		return "TerminationRequested"
	case EventType_OrchestratorCompleted:
		return "OrchestratorCompleted"
	default:
		return "Unknown"
	}
}

// Generated returns true for events produced by orchestration code itself. Those are the events
// replay compares against the decisions the code makes.
func (et EventType) Generated() bool {
	return et == EventType_TaskScheduled || et == EventType_SideEffectRecorded
}

type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id,omitempty"`

	Type EventType `json:"t,omitempty"`

	Timestamp time.Time `json:"ts,omitempty"`

	// SequenceID is the position of the event in the instance history, starting at 1
	SequenceID int64 `json:"sid,omitempty"`

	// TaskID correlates TaskScheduled events with their TaskCompleted/TaskFailed result, and side effects
	// with the call that produced them.
	TaskID int64 `json:"tid,omitempty"`

	// Attributes are event type specific attributes
	Attributes any `json:"attr,omitempty"`
}

type HistoryEventOption func(e *Event)

func TaskID(taskID int64) HistoryEventOption {
	return func(e *Event) {
		e.TaskID = taskID
	}
}

func SequenceID(sequenceID int64) HistoryEventOption {
	return func(e *Event) {
		e.SequenceID = sequenceID
	}
}

func NewHistoryEvent(timestamp time.Time, eventType EventType, attributes any, opts ...HistoryEventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// LastSequenceID returns the sequence id of the last event, or 0 for an empty history.
func LastSequenceID(events []*Event) int64 {
	if len(events) == 0 {
		return 0
	}

	return events[len(events)-1].SequenceID
}

// AssignSequenceIDs numbers the given events consecutively, starting after lastSequenceID.
func AssignSequenceIDs(lastSequenceID int64, events []*Event) {
	for i, e := range events {
		e.SequenceID = lastSequenceID + int64(i) + 1
	}
}
