package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/command"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/internal/sync"
	"github.com/itixo/durabletask/internal/workflowerrors"
	"github.com/itixo/durabletask/internal/workflowstate"
	"github.com/itixo/durabletask/internal/workflowtracer"
	"github.com/itixo/durabletask/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Status int

const (
	// StatusSuspended means the orchestration waits for the results of outstanding tasks
	StatusSuspended Status = iota
	StatusCompleted
	StatusFailed
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusSuspended:
		return "Suspended"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

type ReplayResult struct {
	Status Status

	// NewEvents are the events produced by this pass, in order. Sequence ids are not assigned.
	NewEvents []*history.Event

	// NewTasks are the activity calls scheduled in this pass. Empty unless Status is StatusSuspended.
	NewTasks []*core.PendingActivityCall

	Output payload.Payload
	Error  *workflowerrors.Error
}

type Executor struct {
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

func NewExecutor(logger *slog.Logger, tracer trace.Tracer, r *registry.Registry, clock clock.Clock) *Executor {
	return &Executor{
		registry: r,
		logger:   logger,
		tracer:   tracer,
		clock:    clock,
	}
}

// Replay runs the orchestration of the given instance from the start against its recorded history. Decisions
// already recorded are matched against the history; decisions not yet recorded become new events. Replay does
// not modify events and produces the same decisions for the same history.
func (e *Executor) Replay(ctx context.Context, instance *core.OrchestrationInstance, events []*history.Event) (*ReplayResult, error) {
	if len(events) == 0 || events[0].Type != history.EventType_OrchestratorStarted {
		return nil, errors.New("history does not start with OrchestratorStarted")
	}

	if history.Finished(events) {
		return finishedResult(events), nil
	}

	started := events[0].Attributes.(*history.OrchestratorStartedAttributes)

	fn, err := e.registry.GetOrchestration(started.Name)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With(
		log.InstanceIDKey, instance.InstanceID,
		log.OrchestrationNameKey, started.Name,
	)

	_, span := e.tracer.Start(ctx, fmt.Sprintf("Replay: %s", started.Name), trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instance.InstanceID),
		attribute.String(log.OrchestrationNameKey, started.Name),
		attribute.Int(log.HistoryLengthKey, len(events)),
	))
	defer span.End()

	state := workflowstate.NewOrchestrationState(instance.InstanceID, started.Name, e.logger, e.clock)

	lastGenerated := -1
	for i, event := range events {
		if event.Type == history.EventType_SideEffectRecorded {
			state.RecordSideEffect(event.TaskID, event.Attributes.(*history.SideEffectRecordedAttributes).Result)
		}

		if event.Type.Generated() {
			lastGenerated = i
		}
	}

	octx := workflowstate.WithOrchestrationState(sync.Background(), state)
	octx = workflowtracer.WithOrchestrationTracer(octx, workflowtracer.New(e.tracer, span))
	o := newOrchestration(reflect.ValueOf(fn))
	defer o.Close()

	var terminated *history.TerminationRequestedAttributes

	for i, event := range events {
		// Code running before the last recorded decision has run before
		state.SetReplaying(i < lastGenerated)

		logger.Debug("Replaying event",
			log.EventIDKey, event.ID,
			log.SeqIDKey, event.SequenceID,
			log.EventTypeKey, event.Type.String(),
			log.TaskIDKey, event.TaskID,
			log.IsReplayingKey, state.Replaying())

		if err := e.executeEvent(octx, state, o, event, started.Input); err != nil {
			var ndErr *NonDeterminismError
			if errors.As(err, &ndErr) {
				ndErr.InstanceID = instance.InstanceID
				ndErr.SequenceID = event.SequenceID
				span.SetStatus(codes.Error, err.Error())
			}

			return nil, err
		}

		if event.Type == history.EventType_TerminationRequested {
			terminated = event.Attributes.(*history.TerminationRequestedAttributes)
			break
		}
	}

	state.SetReplaying(false)

	result := &ReplayResult{
		NewEvents: []*history.Event{},
		NewTasks:  []*core.PendingActivityCall{},
	}

	switch {
	case terminated != nil:
		err := fmt.Errorf("terminated: %s", terminated.Reason)
		result.complete(e.clock, core.InstanceStatusTerminated, nil, err)
		result.Status = StatusTerminated

	case o.Completed():
		// Side effects evaluated on the way out are still recorded
		for _, c := range state.PendingCommands() {
			if sc, ok := c.(*command.SideEffectCommand); ok {
				result.NewEvents = append(result.NewEvents, sc.Execute(e.clock))
			} else {
				logger.Warn("Orchestration completed with unawaited command", "command", c.Type(), log.TaskIDKey, c.ID())
			}
		}

		if o.Error() != nil {
			result.complete(e.clock, core.InstanceStatusFailed, nil, o.Error())
			result.Status = StatusFailed
		} else {
			result.complete(e.clock, core.InstanceStatusCompleted, o.Result(), nil)
			result.Status = StatusCompleted
		}

	default:
		for _, c := range state.PendingCommands() {
			event := c.Execute(e.clock)
			result.NewEvents = append(result.NewEvents, event)

			if sac, ok := c.(*command.ScheduleActivityCommand); ok {
				result.NewTasks = append(result.NewTasks, &core.PendingActivityCall{
					InstanceID: instance.InstanceID,
					TaskID:     sac.ID(),
					Name:       sac.Name,
					Input:      sac.Input,
					Attempt:    sac.Attempt,
				})
			}
		}

		result.Status = StatusSuspended
	}

	logger.Debug("Replay finished",
		log.InstanceStatusKey, result.Status.String(),
		log.NewEventsKey, len(result.NewEvents),
		log.NewTasksKey, len(result.NewTasks))

	return result, nil
}

func (r *ReplayResult) complete(clock clock.Clock, status core.InstanceStatus, output payload.Payload, err error) {
	c := command.NewCompleteOrchestrationCommand(status, output, err)
	r.NewEvents = append(r.NewEvents, c.Execute(clock))
	r.Output = output
	r.Error = c.Error
}

func (e *Executor) executeEvent(
	ctx sync.Context, state *workflowstate.OrchestrationState, o *orchestration, event *history.Event, in payload.Payload,
) error {
	switch event.Type {
	case history.EventType_OrchestratorStarted:
		if o.Started() {
			return errors.New("history contains more than one OrchestratorStarted event")
		}

		o.Execute(ctx, in)

	case history.EventType_TaskScheduled, history.EventType_SideEffectRecorded:
		c := state.CommandByTaskID(event.TaskID)
		if c == nil {
			return &NonDeterminismError{
				Reason: fmt.Sprintf("history recorded %s for task %d, orchestration did not issue it", event.Type, event.TaskID),
			}
		}

		if err := c.Commit(event); err != nil {
			return &NonDeterminismError{Reason: err.Error()}
		}

	case history.EventType_TaskCompleted:
		a := event.Attributes.(*history.TaskCompletedAttributes)
		if err := e.resolve(state, event.TaskID, a.Result, nil); err != nil {
			return err
		}

		o.Continue()

	case history.EventType_TaskFailed:
		a := event.Attributes.(*history.TaskFailedAttributes)
		if err := e.resolve(state, event.TaskID, nil, workflowerrors.ToError(a.Error)); err != nil {
			return err
		}

		o.Continue()

	case history.EventType_TerminationRequested:
		// Handled by the caller

	default:
		return fmt.Errorf("unexpected event type in history: %v", event.Type)
	}

	return nil
}

func (e *Executor) resolve(state *workflowstate.OrchestrationState, taskID int64, result payload.Payload, err error) error {
	f, ok := state.FutureByTaskID(taskID)
	if !ok {
		return &NonDeterminismError{
			Reason: fmt.Sprintf("history recorded a result for task %d, orchestration is not waiting for it", taskID),
		}
	}

	if err := f(result, err); err != nil {
		return fmt.Errorf("setting result of task %d: %w", taskID, err)
	}

	state.RemoveFuture(taskID)

	if c := state.CommandByTaskID(taskID); c != nil {
		c.Done()
	}

	return nil
}

func finishedResult(events []*history.Event) *ReplayResult {
	r := &ReplayResult{
		NewEvents: []*history.Event{},
		NewTasks:  []*core.PendingActivityCall{},
	}

	for _, e := range events {
		if e.Type != history.EventType_OrchestratorCompleted {
			continue
		}

		a := e.Attributes.(*history.OrchestratorCompletedAttributes)
		r.Output = a.Result
		r.Error = a.Error

		switch a.Status {
		case core.InstanceStatusCompleted:
			r.Status = StatusCompleted
		case core.InstanceStatusTerminated:
			r.Status = StatusTerminated
		default:
			r.Status = StatusFailed
		}
	}

	return r
}
