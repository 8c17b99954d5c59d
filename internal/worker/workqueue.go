package worker

import "context"

// workQueue hands polled tasks to the dispatcher. Pollers reserve a slot before polling, so no more than
// maxParallelTasks tasks are taken from the source at any time.
type workQueue[Task any] struct {
	tasks chan *Task
	slots chan struct{}
}

func newWorkQueue[Task any](maxParallelTasks int) *workQueue[Task] {
	var slots chan struct{}
	if maxParallelTasks > 0 {
		slots = make(chan struct{}, maxParallelTasks)
	}

	return &workQueue[Task]{
		tasks: make(chan *Task),
		slots: slots,
	}
}

func (w *workQueue[Task]) reserve(ctx context.Context) error {
	if w.slots == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.slots <- struct{}{}:
		return nil
	}
}

func (w *workQueue[Task]) add(ctx context.Context, task *Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.tasks <- task:
		return nil
	}
}

func (w *workQueue[Task]) release() {
	if w.slots == nil {
		return
	}

	<-w.slots
}
