package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/core"
)

type memoryBackend struct {
	mu sync.RWMutex

	instances map[string]*core.OrchestrationInstance
	order     []string
	events    map[string][]*history.Event

	options *backend.Options
}

var _ backend.Backend = (*memoryBackend)(nil)

// NewMemoryBackend returns a backend keeping all state in process memory. State is lost when the process exits.
func NewMemoryBackend(opts ...backend.BackendOption) *memoryBackend {
	options := backend.ApplyOptions(opts...)

	return &memoryBackend{
		instances: make(map[string]*core.OrchestrationInstance),
		events:    make(map[string][]*history.Event),
		options:   &options,
	}
}

func (mb *memoryBackend) Options() *backend.Options {
	return mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}

func (mb *memoryBackend) CreateInstance(_ context.Context, instance *core.OrchestrationInstance) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.instances[instance.InstanceID]; ok {
		return backend.ErrInstanceAlreadyExists
	}

	i := *instance
	mb.instances[instance.InstanceID] = &i
	mb.order = append(mb.order, instance.InstanceID)

	return nil
}

func (mb *memoryBackend) GetInstance(_ context.Context, instanceID string) (*core.OrchestrationInstance, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	i, ok := mb.instances[instanceID]
	if !ok {
		return nil, backend.ErrInstanceNotFound
	}

	r := *i
	return &r, nil
}

func (mb *memoryBackend) ListInstances(_ context.Context) ([]*core.OrchestrationInstance, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	r := make([]*core.OrchestrationInstance, 0, len(mb.order))
	for _, id := range mb.order {
		i := *mb.instances[id]
		r = append(r, &i)
	}

	return r, nil
}

func (mb *memoryBackend) Append(_ context.Context, instanceID string, events ...*history.Event) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	h := mb.events[instanceID]
	if err := backend.CheckAppend(instanceID, history.LastSequenceID(h), history.Finished(h), events); err != nil {
		return err
	}

	for _, e := range events {
		ec := *e
		h = append(h, &ec)
	}

	mb.events[instanceID] = h

	return nil
}

func (mb *memoryBackend) ReadAll(_ context.Context, instanceID string) ([]*history.Event, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return slices.Clone(mb.events[instanceID]), nil
}
