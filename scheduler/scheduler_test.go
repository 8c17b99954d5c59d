package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/memory"
	"github.com/itixo/durabletask/core"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, opts ...backend.BackendOption) (*Scheduler, backend.Backend) {
	t.Helper()

	b := memory.NewMemoryBackend(opts...)
	return New(b, NewMemoryQueue(), clock.New()), b
}

func startInstance(t *testing.T, b backend.Backend, instanceID string) {
	t.Helper()

	require.NoError(t, b.Append(context.Background(), instanceID,
		history.NewHistoryEvent(time.Now(), history.EventType_OrchestratorStarted,
			&history.OrchestratorStartedAttributes{Name: "o"}, history.SequenceID(1))))
}

func call(instanceID string, taskID int64) *core.PendingActivityCall {
	return &core.PendingActivityCall{
		InstanceID: instanceID,
		TaskID:     taskID,
		Name:       "GenerateOrder",
		Input:      []byte(`"p"`),
		Attempt:    1,
	}
}

func next(t *testing.T, s *Scheduler, timeout time.Duration) *core.PendingActivityCall {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := s.Next(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	require.NoError(t, err)
	return c
}

func countEvents(t *testing.T, b backend.Backend, instanceID string, et history.EventType) int {
	t.Helper()

	events, err := b.ReadAll(context.Background(), instanceID)
	require.NoError(t, err)

	n := 0
	for _, e := range events {
		if e.Type == et {
			n++
		}
	}

	return n
}

func Test_Schedule_RecordsAndDispatches(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, s.Schedule(ctx, call("i", 1)))

	require.Equal(t, 1, countEvents(t, b, "i", history.EventType_TaskScheduled))

	c := next(t, s, time.Second)
	require.NotNil(t, c)
	require.Equal(t, int64(1), c.TaskID)
	require.Equal(t, "GenerateOrder", c.Name)
	require.False(t, c.DispatchedAt.IsZero())
}

func Test_Schedule_IsIdempotent(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.NoError(t, s.Schedule(ctx, call("i", 1)))

	require.Equal(t, 1, countEvents(t, b, "i", history.EventType_TaskScheduled))

	require.NotNil(t, next(t, s, time.Second))
	require.Nil(t, next(t, s, 50*time.Millisecond))
}

func Test_Schedule_UsesRecordedEvent(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, b.Append(ctx, "i", history.NewHistoryEvent(time.Now(), history.EventType_TaskScheduled,
		&history.TaskScheduledAttributes{Name: "GenerateOrder"}, history.TaskID(1), history.SequenceID(2))))

	require.NoError(t, s.Schedule(ctx, call("i", 1)))

	require.Equal(t, 1, countEvents(t, b, "i", history.EventType_TaskScheduled))
	require.NotNil(t, next(t, s, time.Second))
}

func Test_Schedule_RejectsDifferentActivity(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, b.Append(ctx, "i", history.NewHistoryEvent(time.Now(), history.EventType_TaskScheduled,
		&history.TaskScheduledAttributes{Name: "NotifyAboutAcceptedPayment"}, history.TaskID(1), history.SequenceID(2))))

	require.Error(t, s.Schedule(ctx, call("i", 1)))
}

func Test_Schedule_SkipsTasksWithResult(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.NotNil(t, next(t, s, time.Second))
	require.NoError(t, s.ReportResult(ctx, "i", 1, []byte("1"), nil))

	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.Nil(t, next(t, s, 50*time.Millisecond))
}

func Test_ReportResult_RecordsCompletion(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	var notified atomic.Int32
	s.OnResult(func(ctx context.Context, instanceID string) {
		require.Equal(t, "i", instanceID)
		notified.Add(1)
	})

	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.NoError(t, s.ReportResult(ctx, "i", 1, []byte(`"ORD-1"`), nil))

	events, err := b.ReadAll(ctx, "i")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, history.EventType_TaskCompleted, events[2].Type)
	require.Equal(t, int64(1), events[2].TaskID)
	require.Equal(t, int32(1), notified.Load())

	// Duplicate reports are ignored
	require.NoError(t, s.ReportResult(ctx, "i", 1, []byte(`"ORD-2"`), nil))
	require.Equal(t, 1, countEvents(t, b, "i", history.EventType_TaskCompleted))
	require.Equal(t, int32(1), notified.Load())
}

func Test_ReportResult_RecordsFailure(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.NoError(t, s.ReportResult(ctx, "i", 1, nil, errors.New("smtp unavailable")))

	events, err := b.ReadAll(ctx, "i")
	require.NoError(t, err)
	require.Equal(t, history.EventType_TaskFailed, events[2].Type)

	a := events[2].Attributes.(*history.TaskFailedAttributes)
	require.Equal(t, "smtp unavailable", a.Error.Message)
}

func Test_ReportResult_UnknownTask(t *testing.T) {
	s, b := newScheduler(t)
	startInstance(t, b, "i")

	require.Error(t, s.ReportResult(context.Background(), "i", 5, nil, nil))
}

type conflictingBackend struct {
	backend.Backend

	conflicts atomic.Int32
}

func (cb *conflictingBackend) Append(ctx context.Context, instanceID string, events ...*history.Event) error {
	if cb.conflicts.Add(-1) >= 0 {
		// Another writer got there first
		last, _ := cb.Backend.ReadAll(ctx, instanceID)
		if err := cb.Backend.Append(ctx, instanceID, history.NewHistoryEvent(time.Now(), history.EventType_SideEffectRecorded,
			&history.SideEffectRecordedAttributes{}, history.TaskID(99), history.SequenceID(history.LastSequenceID(last)+1))); err != nil {
			return err
		}
	}

	return cb.Backend.Append(ctx, instanceID, events...)
}

func Test_ReportResult_RetriesOnSequenceConflict(t *testing.T) {
	mb := memory.NewMemoryBackend()
	startInstance(t, mb, "i")

	ctx := context.Background()
	require.NoError(t, mb.Append(ctx, "i", history.NewHistoryEvent(time.Now(), history.EventType_TaskScheduled,
		&history.TaskScheduledAttributes{Name: "GenerateOrder"}, history.TaskID(1), history.SequenceID(2))))

	cb := &conflictingBackend{Backend: mb}
	cb.conflicts.Store(2)

	s := New(cb, NewMemoryQueue(), clock.New())

	require.NoError(t, s.ReportResult(ctx, "i", 1, []byte("1"), nil))

	events, err := mb.ReadAll(ctx, "i")
	require.NoError(t, err)
	require.Len(t, events, 5)
	require.Equal(t, history.EventType_TaskCompleted, events[4].Type)
	require.Equal(t, int64(5), events[4].SequenceID)
}

func Test_Scheduler_RedispatchesExpiredTasks(t *testing.T) {
	s, b := newScheduler(t, backend.WithActivityLockTimeout(10*time.Millisecond))
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.NotNil(t, next(t, s, time.Second))

	time.Sleep(20 * time.Millisecond)
	s.inflight.DeleteExpired()

	c := next(t, s, time.Second)
	require.NotNil(t, c)
	require.Equal(t, int64(1), c.TaskID)

	// Redispatch does not add history
	require.Equal(t, 1, countEvents(t, b, "i", history.EventType_TaskScheduled))
}

func Test_Scheduler_NoRedispatchAfterResult(t *testing.T) {
	s, b := newScheduler(t, backend.WithActivityLockTimeout(10*time.Millisecond))
	ctx := context.Background()
	startInstance(t, b, "i")

	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.NotNil(t, next(t, s, time.Second))

	// The result is recorded by another process, the local lock is still held
	require.NoError(t, b.Append(ctx, "i", history.NewHistoryEvent(time.Now(), history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{}, history.TaskID(1), history.SequenceID(3))))

	time.Sleep(20 * time.Millisecond)
	s.inflight.DeleteExpired()

	require.Nil(t, next(t, s, 100*time.Millisecond))
}

func Test_Schedule_ConcurrentCallsDispatchOnce(t *testing.T) {
	s, b := newScheduler(t)
	ctx := context.Background()
	startInstance(t, b, "i")

	var wg sync.WaitGroup
	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Schedule(ctx, call("i", 1)))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, countEvents(t, b, "i", history.EventType_TaskScheduled))
	require.NotNil(t, next(t, s, time.Second))
	require.Nil(t, next(t, s, 50*time.Millisecond))
}

// markingQueue is a queue shared by several schedulers that remembers dispatched calls.
type markingQueue struct {
	Queue

	mu    sync.Mutex
	marks map[string]time.Time
}

func newMarkingQueue() *markingQueue {
	return &markingQueue{Queue: NewMemoryQueue(), marks: map[string]time.Time{}}
}

func (q *markingQueue) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if until, ok := q.marks[key]; ok && time.Now().Before(until) {
		return false, nil
	}

	q.marks[key] = time.Now().Add(ttl)
	return true, nil
}

func (q *markingQueue) Renew(_ context.Context, key string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.marks[key] = time.Now().Add(ttl)
	return nil
}

func (q *markingQueue) Unmark(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.marks, key)
	return nil
}

func (q *markingQueue) marked(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.marks[key]
	return ok
}

func Test_Schedule_DispatchMarkSurvivesRestart(t *testing.T) {
	b := memory.NewMemoryBackend(backend.WithActivityLockTimeout(time.Minute))
	q := newMarkingQueue()
	ctx := context.Background()
	startInstance(t, b, "i")

	// The first process dispatches the call and stops before a worker takes it
	s1 := New(b, q, clock.New())
	require.NoError(t, s1.Schedule(ctx, call("i", 1)))

	s2 := New(b, q, clock.New())
	require.NoError(t, s2.Schedule(ctx, call("i", 1)))

	c := next(t, s2, time.Second)
	require.NotNil(t, c)
	require.Nil(t, next(t, s2, 50*time.Millisecond))

	require.NoError(t, s2.ReportResult(ctx, "i", c.TaskID, []byte(`"ORD-1"`), nil))
	require.False(t, q.marked(c.Key()))
}

func Test_Scheduler_RedispatchRenewsDispatchMark(t *testing.T) {
	b := memory.NewMemoryBackend(backend.WithActivityLockTimeout(10 * time.Millisecond))
	q := newMarkingQueue()
	ctx := context.Background()
	startInstance(t, b, "i")

	s := New(b, q, clock.New())
	require.NoError(t, s.Schedule(ctx, call("i", 1)))
	require.NotNil(t, next(t, s, time.Second))

	time.Sleep(20 * time.Millisecond)
	s.inflight.DeleteExpired()

	c := next(t, s, time.Second)
	require.NotNil(t, c)
	require.True(t, q.marked(c.Key()))
}
