package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/core"
)

var (
	ErrInstanceNotFound      = errors.New("orchestration instance not found")
	ErrInstanceAlreadyExists = errors.New("orchestration instance already exists")

	// ErrInstanceFinished is returned when events are appended to an instance that already recorded its
	// terminal OrchestratorCompleted event.
	ErrInstanceFinished = errors.New("orchestration instance is finished")
)

// SequenceConflictError is returned by Append when the sequence ids of the new events do not directly follow
// the last recorded event. Callers have to re-read the history and retry with the correct next sequence id.
type SequenceConflictError struct {
	InstanceID string
	Expected   int64
	Actual     int64
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict for instance %s: expected sequence id %d, got %d", e.InstanceID, e.Expected, e.Actual)
}

const TracerName = "durabletask"

// HistoryStore is the durable, append-only event log of orchestration instances.
type HistoryStore interface {
	// Append atomically appends the given events to the history of the instance. The first event must have
	// the sequence id following the last recorded one, and the events must be numbered consecutively.
	// When Append returns without error, the events have been persisted.
	Append(ctx context.Context, instanceID string, events ...*history.Event) error

	// ReadAll returns the history of the instance ordered by sequence id. An unknown instance has an empty
	// history.
	ReadAll(ctx context.Context, instanceID string) ([]*history.Event, error)
}

// InstanceStore keeps the immutable creation record of orchestration instances. Everything that changes
// during the lifetime of an instance is derived from its history.
type InstanceStore interface {
	// CreateInstance stores a new instance record. Returns ErrInstanceAlreadyExists for a duplicate id.
	CreateInstance(ctx context.Context, instance *core.OrchestrationInstance) error

	// GetInstance returns the creation record of the instance or ErrInstanceNotFound.
	GetInstance(ctx context.Context, instanceID string) (*core.OrchestrationInstance, error)

	// ListInstances returns the creation records of all instances, oldest first.
	ListInstances(ctx context.Context) ([]*core.OrchestrationInstance, error)
}

//go:generate mockery --name=Backend --inpackage
type Backend interface {
	HistoryStore
	InstanceStore

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}

// CheckAppend validates new events against the state of the stored history. Backends call it while holding
// whatever lock or transaction makes the append atomic.
func CheckAppend(instanceID string, lastSequenceID int64, finished bool, events []*history.Event) error {
	if len(events) == 0 {
		return nil
	}

	if finished {
		return ErrInstanceFinished
	}

	expected := lastSequenceID + 1
	for _, e := range events {
		if e.SequenceID != expected {
			return &SequenceConflictError{InstanceID: instanceID, Expected: expected, Actual: e.SequenceID}
		}

		expected++
	}

	return nil
}
