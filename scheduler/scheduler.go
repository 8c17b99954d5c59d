package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/internal/metrickeys"
	"github.com/itixo/durabletask/internal/workflowerrors"
	"github.com/itixo/durabletask/metrics"
	"github.com/jellydator/ttlcache/v3"
)

// ResultHandler is called after the result of a task has been recorded.
type ResultHandler func(ctx context.Context, instanceID string)

// Scheduler records activity calls in the history and hands them to activity workers. Every scheduled call is
// tracked as in flight until its result is reported; calls that stay in flight longer than the activity lock
// timeout are dispatched again.
type Scheduler struct {
	backend backend.Backend
	queue   Queue
	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Client

	lockTimeout time.Duration
	inflight    *ttlcache.Cache[string, *core.PendingActivityCall]

	onResult ResultHandler
}

func New(b backend.Backend, queue Queue, clock clock.Clock) *Scheduler {
	options := b.Options()

	inflight := ttlcache.New(
		ttlcache.WithTTL[string, *core.PendingActivityCall](options.ActivityLockTimeout),
		ttlcache.WithDisableTouchOnHit[string, *core.PendingActivityCall](),
	)

	s := &Scheduler{
		backend:     b,
		queue:       queue,
		clock:       clock,
		logger:      options.Logger,
		metrics:     options.Metrics,
		lockTimeout: options.ActivityLockTimeout,
		inflight:    inflight,
		onResult:    func(context.Context, string) {},
	}

	inflight.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *core.PendingActivityCall]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}

		s.redispatch(ctx, item.Value())
	})

	return s
}

// OnResult registers the handler called after a result has been recorded.
func (s *Scheduler) OnResult(h ResultHandler) {
	s.onResult = h
}

// Start starts expiring in-flight calls until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.inflight.Start()

	go func() {
		<-ctx.Done()
		s.inflight.Stop()
	}()
}

// Schedule records the TaskScheduled event for the call unless the history already contains one for the task
// id, and dispatches the call unless it is in flight or its result has been recorded. Calling Schedule again for
// the same task is safe.
func (s *Scheduler) Schedule(ctx context.Context, call *core.PendingActivityCall) error {
	logger := s.logger.With(
		log.InstanceIDKey, call.InstanceID,
		log.TaskIDKey, call.TaskID,
		log.ActivityNameKey, call.Name,
	)

	var dispatch bool

	err := s.retryOnConflict(ctx, call.InstanceID, func(events []*history.Event) ([]*history.Event, error) {
		dispatch = false

		if history.Finished(events) || history.HasTaskResult(events, call.TaskID) {
			return nil, nil
		}

		dispatch = true

		if scheduled := history.ScheduledTask(events, call.TaskID); scheduled != nil {
			if a := scheduled.Attributes.(*history.TaskScheduledAttributes); a.Name != call.Name {
				return nil, fmt.Errorf("task %d is recorded for activity %q, not %q", call.TaskID, a.Name, call.Name)
			}

			return nil, nil
		}

		return []*history.Event{
			history.NewHistoryEvent(s.clock.Now(), history.EventType_TaskScheduled, &history.TaskScheduledAttributes{
				Name:    call.Name,
				Input:   call.Input,
				Attempt: call.Attempt,
			}, history.TaskID(call.TaskID), history.SequenceID(history.LastSequenceID(events)+1)),
		}, nil
	})
	if err != nil {
		return fmt.Errorf("scheduling task %d of instance %s: %w", call.TaskID, call.InstanceID, err)
	}

	if !dispatch {
		logger.Debug("Task already has a result, not dispatching")
		return nil
	}

	c, claimed := s.claim(call)
	if !claimed {
		logger.Debug("Task already in flight")
		return nil
	}

	if m, ok := s.queue.(DispatchMarker); ok {
		marked, err := m.Mark(ctx, c.Key(), s.lockTimeout)
		if err != nil {
			s.inflight.Delete(c.Key())
			return fmt.Errorf("marking task as dispatched: %w", err)
		}

		if !marked {
			// Dispatched before a restart. The in-flight entry dispatches it again once the lock times out.
			logger.Debug("Task already dispatched")
			return nil
		}
	}

	if err := s.enqueue(ctx, c); err != nil {
		return err
	}

	s.metrics.Counter(metrickeys.ActivityTaskScheduled, metrics.Tags{metrickeys.ActivityName: call.Name}, 1)
	logger.Debug("Dispatched task", log.AttemptKey, call.Attempt)

	return nil
}

// claim marks the call as in flight. It returns false if the call already was.
func (s *Scheduler) claim(call *core.PendingActivityCall) (*core.PendingActivityCall, bool) {
	c := *call
	c.DispatchedAt = s.clock.Now()

	item, found := s.inflight.GetOrSet(c.Key(), &c)
	return item.Value(), !found
}

func (s *Scheduler) enqueue(ctx context.Context, call *core.PendingActivityCall) error {
	if err := s.queue.Enqueue(ctx, call); err != nil {
		s.inflight.Delete(call.Key())
		return fmt.Errorf("enqueueing task: %w", err)
	}

	return nil
}

// Next blocks until an activity call is available for execution.
func (s *Scheduler) Next(ctx context.Context) (*core.PendingActivityCall, error) {
	call, err := s.queue.Dequeue(ctx)
	if err != nil {
		return nil, err
	}

	s.metrics.Distribution(metrickeys.ActivityTaskDelay, metrics.Tags{metrickeys.ActivityName: call.Name},
		float64(s.clock.Since(call.DispatchedAt).Milliseconds()))

	return call, nil
}

// Extend renews the in-flight lock of a call that is still being executed.
func (s *Scheduler) Extend(ctx context.Context, call *core.PendingActivityCall) error {
	s.inflight.Set(call.Key(), call, ttlcache.DefaultTTL)

	if m, ok := s.queue.(DispatchMarker); ok {
		return m.Renew(ctx, call.Key(), s.lockTimeout)
	}

	return nil
}

// ReportResult records the outcome of an activity call. A nil taskErr records TaskCompleted with the result,
// otherwise TaskFailed with the serialized error. A result for a task that already has one is ignored.
func (s *Scheduler) ReportResult(ctx context.Context, instanceID string, taskID int64, result payload.Payload, taskErr error) error {
	logger := s.logger.With(log.InstanceIDKey, instanceID, log.TaskIDKey, taskID)

	var recorded bool

	err := s.retryOnConflict(ctx, instanceID, func(events []*history.Event) ([]*history.Event, error) {
		recorded = false

		if history.HasTaskResult(events, taskID) {
			logger.Debug("Ignoring duplicate task result")
			return nil, nil
		}

		if history.Finished(events) {
			logger.Debug("Ignoring task result for finished instance")
			return nil, nil
		}

		if history.ScheduledTask(events, taskID) == nil {
			return nil, fmt.Errorf("task %d was never scheduled", taskID)
		}

		recorded = true

		seq := history.SequenceID(history.LastSequenceID(events) + 1)

		if taskErr != nil {
			return []*history.Event{history.NewHistoryEvent(s.clock.Now(), history.EventType_TaskFailed,
				&history.TaskFailedAttributes{Error: workflowerrors.FromError(taskErr)}, history.TaskID(taskID), seq)}, nil
		}

		return []*history.Event{history.NewHistoryEvent(s.clock.Now(), history.EventType_TaskCompleted,
			&history.TaskCompletedAttributes{Result: result}, history.TaskID(taskID), seq)}, nil
	})
	if err != nil {
		return fmt.Errorf("reporting result of task %d of instance %s: %w", taskID, instanceID, err)
	}

	s.inflight.Delete(core.TaskKey(instanceID, taskID))

	if m, ok := s.queue.(DispatchMarker); ok {
		if err := m.Unmark(ctx, core.TaskKey(instanceID, taskID)); err != nil {
			logger.Warn("Could not remove dispatch mark", "error", err)
		}
	}

	if recorded {
		status := "completed"
		if taskErr != nil {
			status = "failed"
		}
		s.metrics.Counter(metrickeys.ActivityTaskProcessed, metrics.Tags{metrickeys.Status: status}, 1)

		s.onResult(ctx, instanceID)
	}

	return nil
}

// retryOnConflict reads the history, lets decide compute the events to append and appends them. A sequence
// conflict means another writer appended first; the history is read again and decide re-run.
func (s *Scheduler) retryOnConflict(ctx context.Context, instanceID string, decide func(events []*history.Event) ([]*history.Event, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	b.Clock = s.clock

	return backoff.Retry(func() error {
		events, err := s.backend.ReadAll(ctx, instanceID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("reading history: %w", err))
		}

		newEvents, err := decide(events)
		if err != nil {
			return backoff.Permanent(err)
		}

		if len(newEvents) == 0 {
			return nil
		}

		err = s.backend.Append(ctx, instanceID, newEvents...)

		var scErr *backend.SequenceConflictError
		if errors.As(err, &scErr) {
			s.metrics.Counter(metrickeys.ActivityResultConflicts, metrics.Tags{}, 1)
			return err
		}

		if errors.Is(err, backend.ErrInstanceFinished) {
			// Finished while we were deciding, nothing to record anymore
			return nil
		}

		if err != nil {
			return backoff.Permanent(err)
		}

		return nil
	}, backoff.WithContext(b, ctx))
}

func (s *Scheduler) redispatch(ctx context.Context, call *core.PendingActivityCall) {
	logger := s.logger.With(log.InstanceIDKey, call.InstanceID, log.TaskIDKey, call.TaskID, log.ActivityNameKey, call.Name)

	events, err := s.backend.ReadAll(ctx, call.InstanceID)
	if err != nil {
		logger.Error("Could not read history for expired task", "error", err)
		return
	}

	if history.Finished(events) || history.HasTaskResult(events, call.TaskID) {
		return
	}

	c, claimed := s.claim(call)
	if !claimed {
		// Scheduled again in the meantime
		return
	}

	logger.Warn("Task did not report a result in time, dispatching again", log.DurationKey, s.lockTimeout.Milliseconds())

	if m, ok := s.queue.(DispatchMarker); ok {
		if err := m.Renew(ctx, c.Key(), s.lockTimeout); err != nil {
			s.inflight.Delete(c.Key())
			logger.Error("Could not mark expired task as dispatched", "error", err)
			return
		}
	}

	if err := s.enqueue(ctx, c); err != nil {
		logger.Error("Could not dispatch expired task", "error", err)
		return
	}

	s.metrics.Counter(metrickeys.ActivityTaskRedispatch, metrics.Tags{metrickeys.ActivityName: call.Name}, 1)
}
