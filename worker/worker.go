package worker

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/coordinator"
	internal "github.com/itixo/durabletask/internal/worker"
	"github.com/itixo/durabletask/registry"
	"github.com/itixo/durabletask/scheduler"
	"github.com/itixo/durabletask/workflow"
)

// Worker runs orchestrations and activities registered with it against a backend.
type Worker struct {
	backend backend.Backend

	registry    *registry.Registry
	scheduler   *scheduler.Scheduler
	coordinator *coordinator.Coordinator

	workers []worker
}

type worker interface {
	Start(context.Context) error
	WaitForCompletion() error
}

// New creates a worker that processes orchestrations and activities.
func New(b backend.Backend, options *Options) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	queue := options.ActivityQueue
	if queue == nil {
		queue = scheduler.NewMemoryQueue()
	}

	bo := b.Options()
	clock := clock.New()

	r := registry.New()
	s := scheduler.New(b, queue, clock)
	c := coordinator.New(b, r, s, clock)

	orchestrationWorker := internal.NewWorker[string, internal.OrchestrationRun](
		bo.Logger,
		internal.NewOrchestrationTaskWorker(c),
		&internal.WorkerOptions{
			Pollers:          options.OrchestrationPollers,
			MaxParallelTasks: options.MaxParallelOrchestrations,
		},
	)

	activityWorker := internal.NewWorker(
		bo.Logger,
		internal.NewActivityTaskWorker(s, r, bo.Logger, bo.Metrics, bo.Tracer()),
		&internal.WorkerOptions{
			Pollers:           options.ActivityPollers,
			MaxParallelTasks:  options.MaxParallelActivityTasks,
			HeartbeatInterval: options.ActivityHeartbeatInterval,
			PollingInterval:   options.ActivityPollingInterval,
		},
	)

	return &Worker{
		backend:     b,
		registry:    r,
		scheduler:   s,
		coordinator: c,
		workers:     []worker{orchestrationWorker, activityWorker},
	}
}

// Start recovers unfinished instances and starts processing.
//
// To stop the worker, cancel the context passed to Start. To wait for completion of the active
// tasks, call `WaitForCompletion`.
func (w *Worker) Start(ctx context.Context) error {
	w.scheduler.Start(ctx)

	if err := w.coordinator.Recover(ctx); err != nil {
		return fmt.Errorf("recovering instances: %w", err)
	}

	for _, worker := range w.workers {
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("starting worker: %w", err)
		}
	}

	return nil
}

// WaitForCompletion waits for all active tasks to complete.
func (w *Worker) WaitForCompletion() error {
	for _, worker := range w.workers {
		if err := worker.WaitForCompletion(); err != nil {
			return fmt.Errorf("waiting for worker completion: %w", err)
		}
	}

	return nil
}

// RegisterOrchestration registers an orchestration with the worker's registry.
func (w *Worker) RegisterOrchestration(o workflow.Orchestration, opts ...registry.RegisterOption) error {
	return w.registry.RegisterOrchestration(o, opts...)
}

// RegisterActivity registers an activity with the worker's registry.
func (w *Worker) RegisterActivity(a workflow.Activity, opts ...registry.RegisterOption) error {
	return w.registry.RegisterActivity(a, opts...)
}

// Coordinator returns the coordinator of this worker. Clients in the same process start and control
// instances through it.
func (w *Worker) Coordinator() *coordinator.Coordinator {
	return w.coordinator
}
