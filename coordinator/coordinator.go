package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/internal/metrickeys"
	"github.com/itixo/durabletask/metrics"
	"github.com/itixo/durabletask/registry"
	"github.com/itixo/durabletask/scheduler"
	"github.com/itixo/durabletask/workflow/executor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Coordinator drives orchestration instances: it records their start, replays them whenever new results have
// been recorded, hands new activity calls to the scheduler, and records their completion.
type Coordinator struct {
	backend   backend.Backend
	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	registry  *registry.Registry
	clock     clock.Clock
	logger    *slog.Logger
	metrics   metrics.Client
	tracer    trace.Tracer

	locks *instanceLocks
	runs  *runQueue
}

func New(b backend.Backend, r *registry.Registry, s *scheduler.Scheduler, clock clock.Clock) *Coordinator {
	options := b.Options()

	c := &Coordinator{
		backend:   b,
		scheduler: s,
		executor:  executor.NewExecutor(options.Logger, options.Tracer(), r, clock),
		registry:  r,
		clock:     clock,
		logger:    options.Logger,
		metrics:   options.Metrics,
		tracer:    options.Tracer(),
		locks:     newInstanceLocks(),
		runs:      newRunQueue(),
	}

	s.OnResult(func(ctx context.Context, instanceID string) {
		c.RequestRun(instanceID)
	})

	return c
}

type startConfig struct {
	instanceID string
}

type StartOption func(*startConfig)

// WithInstanceID starts the orchestration under the given id instead of a new uuid.
func WithInstanceID(instanceID string) StartOption {
	return func(c *startConfig) {
		c.instanceID = instanceID
	}
}

// Start creates a new instance of the named orchestration and requests its first run.
func (c *Coordinator) Start(ctx context.Context, name string, input payload.Payload, opts ...StartOption) (string, error) {
	cfg := &startConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.instanceID == "" {
		cfg.instanceID = uuid.NewString()
	}

	instance := core.NewOrchestrationInstance(cfg.instanceID, name, input, c.clock.Now().UTC())
	if err := c.backend.CreateInstance(ctx, instance); err != nil {
		return "", fmt.Errorf("creating instance: %w", err)
	}

	c.metrics.Counter(metrickeys.OrchestrationCreated, metrics.Tags{metrickeys.OrchestrationName: name}, 1)
	c.logger.Debug("Created orchestration instance", log.InstanceIDKey, instance.InstanceID, log.OrchestrationNameKey, name)

	c.RequestRun(instance.InstanceID)

	return instance.InstanceID, nil
}

// RequestRun queues a run of the given instance.
func (c *Coordinator) RequestRun(instanceID string) {
	c.runs.add(instanceID)
}

// NextRun blocks until a run has been requested and returns the instance id.
func (c *Coordinator) NextRun(ctx context.Context) (string, error) {
	return c.runs.next(ctx)
}

// Run replays the instance against its history and records the outcome. Runs of the same instance are
// serialized. A result recorded concurrently leads to another pass.
func (c *Coordinator) Run(ctx context.Context, instanceID string) error {
	unlock := c.locks.lock(instanceID)
	defer unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = time.Minute
	b.Clock = c.clock

	return backoff.Retry(func() error {
		err := c.run(ctx, instanceID)

		var scErr *backend.SequenceConflictError
		if errors.As(err, &scErr) {
			c.logger.Debug("History changed during run, running again", log.InstanceIDKey, instanceID)
			return err
		}

		if err != nil {
			return backoff.Permanent(err)
		}

		return nil
	}, backoff.WithContext(b, ctx))
}

func (c *Coordinator) run(ctx context.Context, instanceID string) error {
	instance, err := c.backend.GetInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("getting instance: %w", err)
	}

	logger := c.logger.With(log.InstanceIDKey, instanceID, log.OrchestrationNameKey, instance.Name)

	events, err := c.backend.ReadAll(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	if history.Finished(events) {
		logger.Debug("Instance already finished")
		return nil
	}

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("Run: %s", instance.Name), trace.WithAttributes(
		attribute.String(log.InstanceIDKey, instanceID),
		attribute.String(log.OrchestrationNameKey, instance.Name),
	))
	defer span.End()

	if len(events) == 0 {
		// Pending -> Running
		started := c.startedEvent(instance)
		if err := c.backend.Append(ctx, instanceID, started); err != nil {
			return fmt.Errorf("recording start: %w", err)
		}

		events = append(events, started)
	}

	c.metrics.Counter(metrickeys.OrchestrationRun, metrics.Tags{metrickeys.OrchestrationName: instance.Name}, 1)

	timer := metrics.Timer(c.metrics, metrickeys.OrchestrationReplayed, metrics.Tags{metrickeys.OrchestrationName: instance.Name})
	result, err := c.executor.Replay(ctx, instance, events)
	timer.Stop()

	if err != nil {
		var ndErr *executor.NonDeterminismError
		var uErr *registry.UnknownOrchestrationError
		if !errors.As(err, &ndErr) && !errors.As(err, &uErr) {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("replaying instance: %w", err)
		}

		logger.Error("Orchestration cannot be replayed, failing instance", "error", err)

		result = failed(c.clock, err)
	}

	var outstanding []*history.Event
	if result.Status == executor.StatusSuspended {
		outstanding = history.OutstandingTasks(append(events, result.NewEvents...))

		// A call no worker can execute fails the instance instead of being dispatched
		if err := c.checkActivities(outstanding); err != nil {
			logger.Error("Orchestration calls an unknown activity, failing instance", "error", err)

			result = failed(c.clock, err)
			outstanding = nil
		}
	}

	newEvents := result.NewEvents
	history.AssignSequenceIDs(history.LastSequenceID(events), newEvents)

	if len(newEvents) > 0 {
		if err := c.backend.Append(ctx, instanceID, newEvents...); err != nil {
			if errors.Is(err, backend.ErrInstanceFinished) {
				return nil
			}

			return fmt.Errorf("recording decisions: %w", err)
		}
	}

	logger.Debug("Recorded orchestration decisions",
		log.InstanceStatusKey, result.Status.String(),
		log.NewEventsKey, len(newEvents),
		log.NewTasksKey, len(result.NewTasks))

	if result.Status != executor.StatusSuspended {
		status := statusOf(result.Status)
		c.metrics.Counter(metrickeys.OrchestrationFinished, metrics.Tags{
			metrickeys.OrchestrationName: instance.Name,
			metrickeys.Status:            status.String(),
		}, 1)

		if result.Error != nil {
			span.SetStatus(codes.Error, result.Error.Message)
		}

		logger.Info("Orchestration finished", log.InstanceStatusKey, status.String())

		return nil
	}

	// Hand new tasks and tasks outstanding from earlier runs to the scheduler. The scheduler does not dispatch
	// calls that are already in flight.
	for _, e := range outstanding {
		a := e.Attributes.(*history.TaskScheduledAttributes)

		if err := c.scheduler.Schedule(ctx, &core.PendingActivityCall{
			InstanceID: instanceID,
			TaskID:     e.TaskID,
			Name:       a.Name,
			Input:      a.Input,
			Attempt:    a.Attempt,
		}); err != nil {
			return fmt.Errorf("scheduling task: %w", err)
		}
	}

	return nil
}

func (c *Coordinator) checkActivities(tasks []*history.Event) error {
	for _, e := range tasks {
		if _, err := c.registry.GetActivity(e.Attributes.(*history.TaskScheduledAttributes).Name); err != nil {
			return err
		}
	}

	return nil
}

func (c *Coordinator) startedEvent(instance *core.OrchestrationInstance) *history.Event {
	return history.NewHistoryEvent(c.clock.Now(), history.EventType_OrchestratorStarted,
		&history.OrchestratorStartedAttributes{Name: instance.Name, Input: instance.Input}, history.SequenceID(1))
}

func failed(clock clock.Clock, err error) *executor.ReplayResult {
	r := &executor.ReplayResult{Status: executor.StatusFailed}

	c := newFailureEvent(clock, err)
	r.NewEvents = []*history.Event{c}
	r.Error = c.Attributes.(*history.OrchestratorCompletedAttributes).Error

	return r
}

func statusOf(s executor.Status) core.InstanceStatus {
	switch s {
	case executor.StatusCompleted:
		return core.InstanceStatusCompleted
	case executor.StatusTerminated:
		return core.InstanceStatusTerminated
	case executor.StatusFailed:
		return core.InstanceStatusFailed
	default:
		return core.InstanceStatusRunning
	}
}

// Terminate records a termination request and runs the instance, which records it as Terminated. An instance
// that has not run yet is started in the same append, so its history stays replayable.
func (c *Coordinator) Terminate(ctx context.Context, instanceID string, reason string) error {
	instance, err := c.backend.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	unlock := c.locks.lock(instanceID)

	events, err := c.backend.ReadAll(ctx, instanceID)
	if err == nil {
		if history.Finished(events) {
			err = backend.ErrInstanceFinished
		} else {
			var newEvents []*history.Event
			if len(events) == 0 {
				newEvents = append(newEvents, c.startedEvent(instance))
			}

			newEvents = append(newEvents, history.NewHistoryEvent(c.clock.Now(), history.EventType_TerminationRequested,
				&history.TerminationRequestedAttributes{Reason: reason}))
			history.AssignSequenceIDs(history.LastSequenceID(events), newEvents)

			err = c.backend.Append(ctx, instanceID, newEvents...)
		}
	}

	unlock()

	if err != nil {
		return fmt.Errorf("terminating instance: %w", err)
	}

	c.logger.Debug("Termination requested", log.InstanceIDKey, instanceID)

	c.RequestRun(instanceID)

	return nil
}

// Status returns the instance with its state derived from the durable history.
func (c *Coordinator) Status(ctx context.Context, instanceID string) (*core.OrchestrationInstance, error) {
	instance, err := c.backend.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	events, err := c.backend.ReadAll(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	history.ApplyToInstance(instance, events)

	return instance, nil
}

// Recover requests a run for every instance that has not finished, e.g. after a process restart.
func (c *Coordinator) Recover(ctx context.Context) error {
	instances, err := c.backend.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}

	recovered := 0
	for _, i := range instances {
		events, err := c.backend.ReadAll(ctx, i.InstanceID)
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}

		if history.Finished(events) {
			continue
		}

		c.RequestRun(i.InstanceID)
		recovered++
	}

	c.logger.Debug("Recovered orchestration instances", "count", recovered)

	return nil
}
