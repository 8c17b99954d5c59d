package worker

import (
	"context"
)

// OrchestrationRunner runs orchestration instances for which a run has been requested.
type OrchestrationRunner interface {
	NextRun(ctx context.Context) (string, error)
	Run(ctx context.Context, instanceID string) error
}

type OrchestrationRun struct{}

type OrchestrationTaskWorker struct {
	runner OrchestrationRunner
}

var _ TaskWorker[string, OrchestrationRun] = (*OrchestrationTaskWorker)(nil)

func NewOrchestrationTaskWorker(runner OrchestrationRunner) *OrchestrationTaskWorker {
	return &OrchestrationTaskWorker{runner: runner}
}

func (ow *OrchestrationTaskWorker) Get(ctx context.Context) (*string, error) {
	id, err := ow.runner.NextRun(ctx)
	if err != nil {
		return nil, err
	}

	return &id, nil
}

// Extend is a no-op, runs are bounded by the coordinator.
func (ow *OrchestrationTaskWorker) Extend(context.Context, *string) error {
	return nil
}

func (ow *OrchestrationTaskWorker) Execute(ctx context.Context, instanceID *string) (*OrchestrationRun, error) {
	if err := ow.runner.Run(ctx, *instanceID); err != nil {
		return nil, err
	}

	return &OrchestrationRun{}, nil
}

func (ow *OrchestrationTaskWorker) Complete(context.Context, *OrchestrationRun, *string) error {
	return nil
}
