// Package diskv implements a history store keeping every instance in files below a directory.
package diskv

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/core"
	"github.com/peterbourgon/diskv/v3"
)

// Diskv is a diskv-backed history store. Appends are serialized within the process; a directory must not be
// shared by multiple processes.
type Diskv struct {
	mu sync.Mutex

	instances *diskv.Diskv
	history   *diskv.Diskv

	options *backend.Options
}

var _ backend.Backend = (*Diskv)(nil)

func New(path string, opts ...backend.BackendOption) *Diskv {
	options := backend.ApplyOptions(opts...)

	flatTransform := func(s string) []string { return []string{} }

	return &Diskv{
		instances: diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "instances"),
			TempDir:      filepath.Join(path, "tmp"),
			Transform:    flatTransform,
			CacheSizeMax: 1024 * 1024,
		}),
		history: diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "history"),
			TempDir:      filepath.Join(path, "tmp"),
			Transform:    flatTransform,
			CacheSizeMax: 8 * 1024 * 1024,
		}),
		options: &options,
	}
}

// key maps an instance id to a file name.
func key(instanceID string) string {
	return hex.EncodeToString([]byte(instanceID))
}

type instanceRecord struct {
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	Input      []byte    `json:"input,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Diskv) Options() *backend.Options {
	return s.options
}

func (s *Diskv) Close() error {
	return nil
}

func (s *Diskv) CreateInstance(_ context.Context, instance *core.OrchestrationInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(instance.InstanceID)
	if s.instances.Has(k) {
		return backend.ErrInstanceAlreadyExists
	}

	data, err := json.Marshal(&instanceRecord{
		InstanceID: instance.InstanceID,
		Name:       instance.Name,
		Input:      instance.Input,
		CreatedAt:  instance.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling instance: %w", err)
	}

	return s.instances.Write(k, data)
}

func (s *Diskv) GetInstance(_ context.Context, instanceID string) (*core.OrchestrationInstance, error) {
	data, err := s.instances.Read(key(instanceID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("reading instance: %w", err)
	}

	return unmarshalInstance(data)
}

func (s *Diskv) ListInstances(ctx context.Context) ([]*core.OrchestrationInstance, error) {
	cancel := make(chan struct{})
	defer close(cancel)

	var instances []*core.OrchestrationInstance
	for k := range s.instances.Keys(cancel) {
		data, err := s.instances.Read(k)
		if err != nil {
			return nil, fmt.Errorf("reading instance: %w", err)
		}

		i, err := unmarshalInstance(data)
		if err != nil {
			return nil, err
		}

		instances = append(instances, i)
	}

	slices.SortStableFunc(instances, func(a, b *core.OrchestrationInstance) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return instances, nil
}

func unmarshalInstance(data []byte) (*core.OrchestrationInstance, error) {
	var r instanceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling instance: %w", err)
	}

	return core.NewOrchestrationInstance(r.InstanceID, r.Name, r.Input, r.CreatedAt.UTC()), nil
}

// Append rewrites the history file of the instance. diskv writes through a temp file and a rename, so a crash
// leaves either the old or the new history.
func (s *Diskv) Append(_ context.Context, instanceID string, events ...*history.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.read(instanceID)
	if err != nil {
		return err
	}

	if err := backend.CheckAppend(instanceID, history.LastSequenceID(h), history.Finished(h), events); err != nil {
		return err
	}

	data, err := json.Marshal(append(h, events...))
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}

	return s.history.Write(key(instanceID), data)
}

func (s *Diskv) ReadAll(_ context.Context, instanceID string) ([]*history.Event, error) {
	return s.read(instanceID)
}

func (s *Diskv) read(instanceID string) ([]*history.Event, error) {
	data, err := s.history.Read(key(instanceID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*history.Event{}, nil
		}

		return nil, fmt.Errorf("reading history: %w", err)
	}

	var events []*history.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("unmarshaling history: %w", err)
	}

	return events, nil
}
