package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testTask struct {
	ID int
}

type testResult struct {
	Output string
}

type mockTaskWorker struct {
	mock.Mock
}

func (m *mockTaskWorker) Get(ctx context.Context) (*testTask, error) {
	args := m.Called(ctx)
	if f, ok := args.Get(0).(func(context.Context) (*testTask, error)); ok {
		return f(ctx)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*testTask), args.Error(1)
}

func (m *mockTaskWorker) Extend(ctx context.Context, task *testTask) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockTaskWorker) Execute(ctx context.Context, task *testTask) (*testResult, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*testResult), args.Error(1)
}

func (m *mockTaskWorker) Complete(ctx context.Context, result *testResult, task *testTask) error {
	return m.Called(ctx, result, task).Error(0)
}

func Test_NewWorker_Defaults(t *testing.T) {
	w := NewWorker[testTask, testResult](slog.Default(), &mockTaskWorker{}, &WorkerOptions{})

	require.Equal(t, 1, w.options.Pollers)
	require.Equal(t, 200*time.Millisecond, w.options.PollingInterval)
	require.Nil(t, w.wq.slots)
}

func Test_Worker_ExecutesAndCompletesTasks(t *testing.T) {
	tw := &mockTaskWorker{}

	task := &testTask{ID: 1}
	result := &testResult{Output: "ok"}

	var delivered atomic.Bool
	tw.On("Get", mock.Anything).Return(func(ctx context.Context) (*testTask, error) {
		if delivered.CompareAndSwap(false, true) {
			return task, nil
		}

		<-ctx.Done()
		return nil, ctx.Err()
	})

	completed := make(chan struct{})
	tw.On("Execute", mock.Anything, task).Return(result, nil)
	tw.On("Complete", mock.Anything, result, task).Return(nil).Run(func(mock.Arguments) {
		close(completed)
	})

	w := NewWorker[testTask, testResult](slog.Default(), tw, &WorkerOptions{
		Pollers:         2,
		PollingInterval: time.Millisecond,
		PollTimeout:     10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("task not completed")
	}

	cancel()
	require.NoError(t, w.WaitForCompletion())

	tw.AssertNumberOfCalls(t, "Execute", 1)
}

func Test_Worker_ExecuteErrorSkipsComplete(t *testing.T) {
	tw := &mockTaskWorker{}

	task := &testTask{ID: 1}
	tw.On("Execute", mock.Anything, task).Return(nil, errors.New("boom"))

	w := NewWorker[testTask, testResult](slog.Default(), tw, &WorkerOptions{})

	err := w.handle(context.Background(), task)
	require.ErrorContains(t, err, "executing task: boom")
	tw.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func Test_Worker_CompleteError(t *testing.T) {
	tw := &mockTaskWorker{}

	task := &testTask{ID: 1}
	result := &testResult{}
	tw.On("Execute", mock.Anything, task).Return(result, nil)
	tw.On("Complete", mock.Anything, result, task).Return(errors.New("conflict"))

	w := NewWorker[testTask, testResult](slog.Default(), tw, &WorkerOptions{})

	require.ErrorContains(t, w.handle(context.Background(), task), "completing task: conflict")
}

func Test_Worker_PollTimeoutIsNotAnError(t *testing.T) {
	tw := &mockTaskWorker{}
	tw.On("Get", mock.Anything).Return(func(ctx context.Context) (*testTask, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	w := NewWorker[testTask, testResult](slog.Default(), tw, &WorkerOptions{})

	task, err := w.poll(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, task)
}

func Test_Worker_PollError(t *testing.T) {
	tw := &mockTaskWorker{}
	tw.On("Get", mock.Anything).Return(nil, errors.New("queue closed"))

	w := NewWorker[testTask, testResult](slog.Default(), tw, &WorkerOptions{})

	_, err := w.poll(context.Background(), time.Second)
	require.ErrorContains(t, err, "queue closed")
}

func Test_Worker_HeartbeatsRunningTasks(t *testing.T) {
	tw := &mockTaskWorker{}

	task := &testTask{ID: 1}
	result := &testResult{}

	var extends atomic.Int32
	tw.On("Extend", mock.Anything, task).Return(nil).Run(func(mock.Arguments) {
		extends.Add(1)
	})
	tw.On("Execute", mock.Anything, task).Return(result, nil).Run(func(mock.Arguments) {
		require.Eventually(t, func() bool { return extends.Load() >= 2 }, time.Second, time.Millisecond)
	})
	tw.On("Complete", mock.Anything, result, task).Return(nil)

	w := NewWorker[testTask, testResult](slog.Default(), tw, &WorkerOptions{HeartbeatInterval: time.Millisecond})

	require.NoError(t, w.handle(context.Background(), task))
}

func Test_Worker_LimitsParallelTasks(t *testing.T) {
	tw := &mockTaskWorker{}

	var next atomic.Int32
	tw.On("Get", mock.Anything).Return(func(ctx context.Context) (*testTask, error) {
		if id := next.Add(1); id <= 6 {
			return &testTask{ID: int(id)}, nil
		}

		<-ctx.Done()
		return nil, ctx.Err()
	})

	var mu sync.Mutex
	running, maxRunning := 0, 0
	var done sync.WaitGroup
	done.Add(6)

	tw.On("Execute", mock.Anything, mock.Anything).Return(&testResult{}, nil).Run(func(mock.Arguments) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
	})
	tw.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		done.Done()
	})

	w := NewWorker[testTask, testResult](slog.Default(), tw, &WorkerOptions{
		Pollers:          4,
		MaxParallelTasks: 2,
		PollingInterval:  time.Millisecond,
		PollTimeout:      10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	done.Wait()
	cancel()
	require.NoError(t, w.WaitForCompletion())

	require.LessOrEqual(t, maxRunning, 2)
}
