package workflowstate

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/internal/command"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/internal/sync"
)

type key int

var orchestrationCtxKey key

// Resolver settles the future waiting for the result of a task.
type Resolver func(v payload.Payload, err error) error

// OrchestrationState is the per-replay state shared between the executor and orchestration code.
type OrchestrationState struct {
	instanceID string
	name       string

	nextTaskID int64
	commands   []command.Command
	pending    map[int64]Resolver

	recordedSideEffects map[int64]payload.Payload

	replaying bool

	logger *slog.Logger
	clock  clock.Clock
}

func NewOrchestrationState(instanceID, name string, logger *slog.Logger, clock clock.Clock) *OrchestrationState {
	s := &OrchestrationState{
		instanceID:          instanceID,
		name:                name,
		nextTaskID:          1,
		commands:            []command.Command{},
		pending:             make(map[int64]Resolver),
		recordedSideEffects: make(map[int64]payload.Payload),
		clock:               clock,
	}

	s.logger = NewReplayLogger(s, logger.With(
		slog.String(log.InstanceIDKey, instanceID),
		slog.String(log.OrchestrationNameKey, name),
	))

	return s
}

// OrchestrationStateFromContext returns the state of the running orchestration, or nil outside of one.
func OrchestrationStateFromContext(ctx sync.Context) *OrchestrationState {
	s, _ := ctx.Value(orchestrationCtxKey).(*OrchestrationState)
	return s
}

func WithOrchestrationState(ctx sync.Context, s *OrchestrationState) sync.Context {
	return sync.WithValue(ctx, orchestrationCtxKey, s)
}

// GetNextTaskID returns the next task id. Task ids are handed out in the order orchestration code issues
// commands, so the same code replayed over the same history sees the same ids.
func (s *OrchestrationState) GetNextTaskID() int64 {
	id := s.nextTaskID
	s.nextTaskID++
	return id
}

func (s *OrchestrationState) TrackFuture(taskID int64, r Resolver) {
	s.pending[taskID] = r
}

func (s *OrchestrationState) FutureByTaskID(taskID int64) (Resolver, bool) {
	r, ok := s.pending[taskID]
	return r, ok
}

func (s *OrchestrationState) RemoveFuture(taskID int64) {
	delete(s.pending, taskID)
}

func (s *OrchestrationState) Commands() []command.Command {
	return s.commands
}

func (s *OrchestrationState) AddCommand(cmd command.Command) {
	s.commands = append(s.commands, cmd)
}

// CommandByTaskID returns the command issued for the given task id.
func (s *OrchestrationState) CommandByTaskID(taskID int64) command.Command {
	for _, c := range s.commands {
		if c.ID() == taskID {
			return c
		}
	}

	return nil
}

// PendingCommands returns the commands not yet recorded in the history, in the order they were issued.
func (s *OrchestrationState) PendingCommands() []command.Command {
	r := make([]command.Command, 0)
	for _, c := range s.commands {
		if c.State() == command.CommandState_Pending {
			r = append(r, c)
		}
	}

	return r
}

func (s *OrchestrationState) RecordSideEffect(taskID int64, result payload.Payload) {
	s.recordedSideEffects[taskID] = result
}

// RecordedSideEffect returns the result of a side effect recorded in the history.
func (s *OrchestrationState) RecordedSideEffect(taskID int64) (payload.Payload, bool) {
	r, ok := s.recordedSideEffects[taskID]
	return r, ok
}

func (s *OrchestrationState) SetReplaying(replaying bool) {
	s.replaying = replaying
}

func (s *OrchestrationState) Replaying() bool {
	return s.replaying
}

func (s *OrchestrationState) InstanceID() string {
	return s.instanceID
}

func (s *OrchestrationState) Name() string {
	return s.name
}

func (s *OrchestrationState) Logger() *slog.Logger {
	return s.logger
}

func (s *OrchestrationState) Clock() clock.Clock {
	return s.clock
}
