package worker

import (
	"context"
	"time"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/client"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/registry"
	"github.com/itixo/durabletask/workflow"
)

// Host combines a worker and a client in a single process.
type Host struct {
	worker *Worker
	Client *client.Client // Exposed for client.GetResult
}

func NewHost(b backend.Backend, options *Options) *Host {
	w := New(b, options)

	return &Host{
		worker: w,
		Client: client.New(b, w.Coordinator()),
	}
}

func (h *Host) Start(ctx context.Context) error {
	return h.worker.Start(ctx)
}

func (h *Host) WaitForCompletion() error {
	return h.worker.WaitForCompletion()
}

func (h *Host) RegisterOrchestration(o workflow.Orchestration, opts ...registry.RegisterOption) error {
	return h.worker.RegisterOrchestration(o, opts...)
}

func (h *Host) RegisterActivity(a workflow.Activity, opts ...registry.RegisterOption) error {
	return h.worker.RegisterActivity(a, opts...)
}

func (h *Host) StartOrchestration(ctx context.Context, options client.StartOptions, o workflow.Orchestration, args ...any) (string, error) {
	return h.Client.StartOrchestration(ctx, options, o, args...)
}

func (h *Host) WaitForOrchestration(ctx context.Context, instanceID string, timeout time.Duration) (*core.OrchestrationInstance, error) {
	return h.Client.WaitForOrchestration(ctx, instanceID, timeout)
}
