package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/workflowerrors"
	"github.com/itixo/durabletask/registry"
	wf "github.com/itixo/durabletask/workflow"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newExecutor(t *testing.T, name string, orchestration any) (*Executor, *core.OrchestrationInstance) {
	t.Helper()

	r := registry.New()
	require.NoError(t, r.RegisterOrchestration(orchestration, registry.WithName(name)))

	e := NewExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)), noop.NewTracerProvider().Tracer("test"), r, clock.New())
	i := core.NewOrchestrationInstance("instance-1", name, nil, time.Now())

	return e, i
}

type testHistory struct {
	events []*history.Event
}

func startedHistory(name string, input any) *testHistory {
	h := &testHistory{}
	p, _ := converter.DefaultConverter.To(input)
	h.add(history.NewHistoryEvent(time.Now(), history.EventType_OrchestratorStarted,
		&history.OrchestratorStartedAttributes{Name: name, Input: p}))

	return h
}

func (h *testHistory) add(events ...*history.Event) {
	history.AssignSequenceIDs(history.LastSequenceID(h.events), events)
	h.events = append(h.events, events...)
}

func (h *testHistory) complete(taskID int64, result any) {
	p, _ := converter.DefaultConverter.To(result)
	h.add(history.NewHistoryEvent(time.Now(), history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{Result: p}, history.TaskID(taskID)))
}

func (h *testHistory) fail(taskID int64, err error) {
	h.add(history.NewHistoryEvent(time.Now(), history.EventType_TaskFailed,
		&history.TaskFailedAttributes{Error: workflowerrors.FromError(err)}, history.TaskID(taskID)))
}

func (h *testHistory) scheduled(taskID int64, name string) {
	h.add(history.NewHistoryEvent(time.Now(), history.EventType_TaskScheduled,
		&history.TaskScheduledAttributes{Name: name, Attempt: 1}, history.TaskID(taskID)))
}

func replay(t *testing.T, e *Executor, i *core.OrchestrationInstance, h *testHistory) *ReplayResult {
	t.Helper()

	r, err := e.Replay(context.Background(), i, h.events)
	require.NoError(t, err)

	h.add(r.NewEvents...)

	return r
}

func output[T any](t *testing.T, r *ReplayResult) T {
	t.Helper()

	var v T
	require.NoError(t, converter.DefaultConverter.From(r.Output, &v))
	return v
}

func Test_Replay_CompletesWithoutActivities(t *testing.T) {
	hits := 0
	e, i := newExecutor(t, "o", func(ctx wf.Context, n int) (int, error) {
		hits++
		return n + 1, nil
	})

	h := startedHistory("o", 41)
	r := replay(t, e, i, h)

	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, 42, output[int](t, r))
	require.Equal(t, 1, hits)
	require.Len(t, r.NewEvents, 1)
	require.Equal(t, history.EventType_OrchestratorCompleted, r.NewEvents[0].Type)
	require.Empty(t, r.NewTasks)
}

func Test_Replay_SuspendsOnActivity(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) (int, error) {
		return wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "Double", 21).Get(ctx)
	})

	h := startedHistory("o", nil)
	r := replay(t, e, i, h)

	require.Equal(t, StatusSuspended, r.Status)
	require.Len(t, r.NewEvents, 1)
	require.Equal(t, history.EventType_TaskScheduled, r.NewEvents[0].Type)
	require.Equal(t, int64(1), r.NewEvents[0].TaskID)

	require.Len(t, r.NewTasks, 1)
	require.Equal(t, "Double", r.NewTasks[0].Name)
	require.Equal(t, int64(1), r.NewTasks[0].TaskID)
	require.Equal(t, "instance-1", r.NewTasks[0].InstanceID)
	require.Equal(t, payload.Payload("21"), r.NewTasks[0].Input)

	// Nothing new while the result is outstanding
	r = replay(t, e, i, h)
	require.Equal(t, StatusSuspended, r.Status)
	require.Empty(t, r.NewEvents)

	h.complete(1, 42)
	r = replay(t, e, i, h)

	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, 42, output[int](t, r))
}

func Test_Replay_IsDeterministic(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		f1 := wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "A")
		f2 := wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "B")
		return wf.WaitAll(ctx, f1, f2)
	})

	h := startedHistory("o", nil)

	r1, err := e.Replay(context.Background(), i, h.events)
	require.NoError(t, err)

	r2, err := e.Replay(context.Background(), i, h.events)
	require.NoError(t, err)

	require.Len(t, r1.NewEvents, 2)
	require.Len(t, r2.NewEvents, 2)

	for j := range r1.NewEvents {
		require.Equal(t, r1.NewEvents[j].Type, r2.NewEvents[j].Type)
		require.Equal(t, r1.NewEvents[j].TaskID, r2.NewEvents[j].TaskID)
		require.Equal(t, r1.NewEvents[j].Attributes, r2.NewEvents[j].Attributes)
	}
}

func Test_Replay_NonDeterminism_DifferentActivity(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		_, err := wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "B").Get(ctx)
		return err
	})

	h := startedHistory("o", nil)
	h.scheduled(1, "A")

	_, err := e.Replay(context.Background(), i, h.events)

	var ndErr *NonDeterminismError
	require.ErrorAs(t, err, &ndErr)
	require.Equal(t, "instance-1", ndErr.InstanceID)
	require.Equal(t, int64(2), ndErr.SequenceID)
}

func Test_Replay_NonDeterminism_MissingDecision(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		return nil
	})

	h := startedHistory("o", nil)
	h.scheduled(1, "A")

	_, err := e.Replay(context.Background(), i, h.events)

	var ndErr *NonDeterminismError
	require.ErrorAs(t, err, &ndErr)
}

func Test_Replay_NonDeterminism_UnknownResult(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		_, err := wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "A").Get(ctx)
		return err
	})

	h := startedHistory("o", nil)
	h.scheduled(1, "A")
	h.complete(7, 1)

	_, err := e.Replay(context.Background(), i, h.events)

	var ndErr *NonDeterminismError
	require.ErrorAs(t, err, &ndErr)
}

func Test_Replay_FanOutFanIn(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) ([]int, error) {
		fs := make([]wf.Future[int], 0)
		for n := 0; n < 3; n++ {
			fs = append(fs, wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "Square", n))
		}

		r := make([]int, 0)
		for _, f := range fs {
			v, err := f.Get(ctx)
			if err != nil {
				return nil, err
			}

			r = append(r, v)
		}

		return r, nil
	})

	h := startedHistory("o", nil)

	r := replay(t, e, i, h)
	require.Equal(t, StatusSuspended, r.Status)
	require.Len(t, r.NewTasks, 3)

	// Results arrive in reverse order
	h.complete(3, 4)
	r = replay(t, e, i, h)
	require.Equal(t, StatusSuspended, r.Status)
	require.Empty(t, r.NewEvents)

	h.complete(2, 1)
	r = replay(t, e, i, h)
	require.Equal(t, StatusSuspended, r.Status)

	h.complete(1, 0)
	r = replay(t, e, i, h)
	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, []int{0, 1, 4}, output[[]int](t, r))
}

func Test_Replay_WaitAnyPicksFirstRecordedResult(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) (string, error) {
		fa := wf.ExecuteActivity[string](ctx, wf.DefaultActivityOptions, "A")
		fb := wf.ExecuteActivity[string](ctx, wf.DefaultActivityOptions, "B")

		switch wf.WaitAny(ctx, fa, fb) {
		case 0:
			return fa.Get(ctx)
		default:
			return fb.Get(ctx)
		}
	})

	h := startedHistory("o", nil)
	replay(t, e, i, h)

	h.complete(2, "b")
	h.complete(1, "a")

	r := replay(t, e, i, h)
	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, "b", output[string](t, r))
}

func Test_Replay_RetriesFailedActivity(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) (string, error) {
		return wf.ExecuteActivity[string](ctx, wf.ActivityOptions{
			RetryOptions: wf.RetryOptions{MaxAttempts: 3},
		}, "Flaky").Get(ctx)
	})

	h := startedHistory("o", nil)
	replay(t, e, i, h)

	h.fail(1, errors.New("transient"))
	r := replay(t, e, i, h)

	require.Equal(t, StatusSuspended, r.Status)
	require.Len(t, r.NewTasks, 1)
	require.Equal(t, int64(2), r.NewTasks[0].TaskID)
	require.Equal(t, 2, r.NewTasks[0].Attempt)
	require.Equal(t, "Flaky", r.NewTasks[0].Name)

	h.complete(2, "ok")
	r = replay(t, e, i, h)
	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, "ok", output[string](t, r))

	scheduled := 0
	for _, event := range h.events {
		if event.Type == history.EventType_TaskScheduled {
			scheduled++
		}
	}
	require.Equal(t, 2, scheduled)
}

func Test_Replay_RetriesExhausted(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		_, err := wf.ExecuteActivity[string](ctx, wf.ActivityOptions{
			RetryOptions: wf.RetryOptions{MaxAttempts: 2},
		}, "Flaky").Get(ctx)
		return err
	})

	h := startedHistory("o", nil)
	replay(t, e, i, h)

	h.fail(1, errors.New("first"))
	replay(t, e, i, h)

	h.fail(2, errors.New("second"))
	r := replay(t, e, i, h)

	require.Equal(t, StatusFailed, r.Status)
	require.Equal(t, "second", r.Error.Message)
}

func Test_Replay_PermanentErrorNotRetried(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		_, err := wf.ExecuteActivity[string](ctx, wf.ActivityOptions{
			RetryOptions: wf.RetryOptions{MaxAttempts: 3},
		}, "Broken").Get(ctx)
		return err
	})

	h := startedHistory("o", nil)
	replay(t, e, i, h)

	h.fail(1, workflowerrors.NewPermanentError(errors.New("invalid input")))
	r := replay(t, e, i, h)

	require.Equal(t, StatusFailed, r.Status)
	require.Equal(t, "invalid input", r.Error.Message)
}

func Test_Replay_SideEffectRecordedOnce(t *testing.T) {
	calls := 0

	e, i := newExecutor(t, "o", func(ctx wf.Context) (int, error) {
		v, err := wf.SideEffect(ctx, func(ctx wf.Context) int {
			calls++
			return 42
		}).Get(ctx)
		if err != nil {
			return 0, err
		}

		if _, err := wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "A").Get(ctx); err != nil {
			return 0, err
		}

		return v, nil
	})

	h := startedHistory("o", nil)
	r := replay(t, e, i, h)
	require.Len(t, r.NewEvents, 2)
	require.Equal(t, history.EventType_SideEffectRecorded, r.NewEvents[0].Type)
	require.Equal(t, history.EventType_TaskScheduled, r.NewEvents[1].Type)
	require.Equal(t, int64(2), r.NewEvents[1].TaskID)

	h.complete(2, 0)
	r = replay(t, e, i, h)

	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, 42, output[int](t, r))
	require.Equal(t, 1, calls)
}

func Test_Replay_NowAndGUIDAreStable(t *testing.T) {
	type values struct {
		Now  time.Time
		GUID string
	}

	e, i := newExecutor(t, "o", func(ctx wf.Context) (values, error) {
		v := values{Now: wf.Now(ctx), GUID: wf.NewGUID(ctx)}
		_, err := wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "A").Get(ctx)
		return v, err
	})

	h := startedHistory("o", nil)
	first := replay(t, e, i, h)
	require.Len(t, first.NewEvents, 3)

	var recordedGUID string
	require.NoError(t, converter.DefaultConverter.From(
		first.NewEvents[1].Attributes.(*history.SideEffectRecordedAttributes).Result, &recordedGUID))

	h.complete(3, 0)
	r := replay(t, e, i, h)
	require.Equal(t, StatusCompleted, r.Status)
	require.Equal(t, recordedGUID, output[values](t, r).GUID)
}

func Test_Replay_Panic(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		panic("orchestration bug")
	})

	h := startedHistory("o", nil)
	r := replay(t, e, i, h)

	require.Equal(t, StatusFailed, r.Status)
	require.NotNil(t, r.Error)
	require.Contains(t, r.Error.Message, "orchestration bug")

	var pErr *workflowerrors.PanicError
	require.ErrorAs(t, workflowerrors.ToError(r.Error), &pErr)
}

func Test_Replay_OrchestrationError(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		return errors.New("out of stock")
	})

	r := replay(t, e, i, startedHistory("o", nil))

	require.Equal(t, StatusFailed, r.Status)
	require.Equal(t, "out of stock", r.Error.Message)

	a := r.NewEvents[0].Attributes.(*history.OrchestratorCompletedAttributes)
	require.Equal(t, core.InstanceStatusFailed, a.Status)
}

func Test_Replay_Terminated(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error {
		_, err := wf.ExecuteActivity[int](ctx, wf.DefaultActivityOptions, "A").Get(ctx)
		return err
	})

	h := startedHistory("o", nil)
	replay(t, e, i, h)

	h.add(history.NewHistoryEvent(time.Now(), history.EventType_TerminationRequested,
		&history.TerminationRequestedAttributes{Reason: "cancelled by user"}))

	r := replay(t, e, i, h)
	require.Equal(t, StatusTerminated, r.Status)
	require.Contains(t, r.Error.Message, "cancelled by user")
	require.Empty(t, r.NewTasks)

	a := r.NewEvents[0].Attributes.(*history.OrchestratorCompletedAttributes)
	require.Equal(t, core.InstanceStatusTerminated, a.Status)
}

func Test_Replay_FinishedHistory(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) (int, error) {
		return 1, nil
	})

	h := startedHistory("o", nil)
	replay(t, e, i, h)

	r := replay(t, e, i, h)
	require.Equal(t, StatusCompleted, r.Status)
	require.Empty(t, r.NewEvents)
	require.Equal(t, 1, output[int](t, r))
}

func Test_Replay_UnknownOrchestration(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error { return nil })

	_, err := e.Replay(context.Background(), i, startedHistory("other", nil).events)

	var uErr *registry.UnknownOrchestrationError
	require.ErrorAs(t, err, &uErr)
}

func Test_Replay_RequiresStartedEvent(t *testing.T) {
	e, i := newExecutor(t, "o", func(ctx wf.Context) error { return nil })

	_, err := e.Replay(context.Background(), i, nil)
	require.Error(t, err)
}
