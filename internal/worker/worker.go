package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskWorker fetches and processes a single kind of task.
type TaskWorker[Task, Result any] interface {
	Get(context.Context) (*Task, error)
	Extend(context.Context, *Task) error
	Execute(context.Context, *Task) (*Result, error)
	Complete(context.Context, *Result, *Task) error
}

type Worker[Task, TaskResult any] struct {
	options *WorkerOptions

	tw TaskWorker[Task, TaskResult]

	wq *workQueue[Task]

	logger *slog.Logger

	pollersWg sync.WaitGroup

	dispatcherDone chan struct{}
}

type WorkerOptions struct {
	Pollers int

	MaxParallelTasks int

	// HeartbeatInterval is the interval in which Extend is called for running tasks. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	PollingInterval time.Duration

	// PollTimeout bounds a single call to Get.
	PollTimeout time.Duration
}

func NewWorker[Task, TaskResult any](
	logger *slog.Logger, tw TaskWorker[Task, TaskResult], options *WorkerOptions,
) *Worker[Task, TaskResult] {
	if options.Pollers < 1 {
		options.Pollers = 1
	}

	if options.PollingInterval <= 0 {
		options.PollingInterval = 200 * time.Millisecond
	}

	return &Worker[Task, TaskResult]{
		tw:             tw,
		options:        options,
		wq:             newWorkQueue[Task](options.MaxParallelTasks),
		logger:         logger,
		dispatcherDone: make(chan struct{}, 1),
	}
}

func (w *Worker[Task, TaskResult]) Start(ctx context.Context) error {
	w.pollersWg.Add(w.options.Pollers)

	for i := 0; i < w.options.Pollers; i++ {
		go w.poller(ctx)
	}

	go w.dispatcher()

	return nil
}

// WaitForCompletion waits for all pollers to stop and for all started tasks to finish.
func (w *Worker[Task, TaskResult]) WaitForCompletion() error {
	w.pollersWg.Wait()

	close(w.wq.tasks)
	<-w.dispatcherDone

	return nil
}

func (w *Worker[Task, TaskResult]) poller(ctx context.Context) {
	defer w.pollersWg.Done()

	ticker := time.NewTicker(w.options.PollingInterval)
	defer ticker.Stop()

	for {
		if err := w.wq.reserve(ctx); err != nil {
			return
		}

		task, err := w.poll(ctx, w.options.PollTimeout)
		if err != nil {
			w.logger.ErrorContext(ctx, "error polling task", "error", err)
		} else if task != nil {
			if err := w.wq.add(ctx, task); err != nil {
				w.wq.release()
				return
			}

			continue // check for new tasks right away
		}

		w.wq.release()

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker[Task, TaskResult]) dispatcher() {
	var wg sync.WaitGroup

	for t := range w.wq.tasks {
		wg.Add(1)

		go func(t *Task) {
			defer wg.Done()
			defer w.wq.release()

			// Tasks complete even when the root context is canceled
			if err := w.handle(context.Background(), t); err != nil {
				w.logger.Error("error handling task", "error", err)
			}
		}(t)
	}

	wg.Wait()

	w.dispatcherDone <- struct{}{}
}

func (w *Worker[Task, TaskResult]) handle(ctx context.Context, t *Task) error {
	if w.options.HeartbeatInterval > 0 {
		heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
		defer cancelHeartbeat()
		go w.heartbeatTask(heartbeatCtx, t)
	}

	result, err := w.tw.Execute(ctx, t)
	if err != nil {
		return fmt.Errorf("executing task: %w", err)
	}

	if err := w.tw.Complete(ctx, result, t); err != nil {
		return fmt.Errorf("completing task: %w", err)
	}

	return nil
}

func (w *Worker[Task, TaskResult]) heartbeatTask(ctx context.Context, task *Task) {
	t := time.NewTicker(w.options.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.tw.Extend(ctx, task); err != nil {
				w.logger.ErrorContext(ctx, "could not heartbeat task", "error", err)
			}
		}
	}
}

func (w *Worker[Task, TaskResult]) poll(ctx context.Context, timeout time.Duration) (*Task, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task, err := w.tw.Get(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil
		}

		return nil, err
	}

	return task, nil
}
