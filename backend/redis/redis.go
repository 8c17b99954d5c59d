package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/scheduler"
	"github.com/redis/go-redis/v9"
)

var _ backend.Backend = (*redisBackend)(nil)

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (*redisBackend, error) {
	options := &RedisOptions{
		Options:      backend.ApplyOptions(),
		BlockTimeout: time.Second * 2,
	}

	for _, opt := range opts {
		opt(options)
	}

	rb := &redisBackend{
		rdb:     client,
		options: options,
	}

	// Preload scripts, redis-go falls back to EVAL for unknown scripts but fails inside pipelines
	if err := appendEventsCmd.Load(context.Background(), rb.rdb).Err(); err != nil {
		return nil, fmt.Errorf("loading redis script: %w", err)
	}

	return rb, nil
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions
}

func (rb *redisBackend) Options() *backend.Options {
	return &rb.options.Options
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}

// NewQueue returns an activity queue shared by all workers connected to the same redis database.
func (rb *redisBackend) NewQueue() scheduler.Queue {
	return newQueue(rb.rdb, rb.options.KeyPrefix, rb.options.BlockTimeout)
}

type instanceState struct {
	InstanceID string    `json:"instance_id"`
	Name       string    `json:"name"`
	Input      []byte    `json:"input,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (rb *redisBackend) CreateInstance(ctx context.Context, instance *core.OrchestrationInstance) error {
	data, err := json.Marshal(&instanceState{
		InstanceID: instance.InstanceID,
		Name:       instance.Name,
		Input:      instance.Input,
		CreatedAt:  instance.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling instance: %w", err)
	}

	ok, err := rb.rdb.SetNX(ctx, instanceKey(rb.options.KeyPrefix, instance.InstanceID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("storing instance: %w", err)
	}

	if !ok {
		return backend.ErrInstanceAlreadyExists
	}

	if err := rb.rdb.ZAdd(ctx, instancesByCreation(rb.options.KeyPrefix), redis.Z{
		Member: instance.InstanceID,
		Score:  float64(instance.CreatedAt.UnixMilli()),
	}).Err(); err != nil {
		return fmt.Errorf("indexing instance: %w", err)
	}

	return nil
}

func (rb *redisBackend) GetInstance(ctx context.Context, instanceID string) (*core.OrchestrationInstance, error) {
	data, err := rb.rdb.Get(ctx, instanceKey(rb.options.KeyPrefix, instanceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("reading instance: %w", err)
	}

	return unmarshalInstance(data)
}

func (rb *redisBackend) ListInstances(ctx context.Context) ([]*core.OrchestrationInstance, error) {
	ids, err := rb.rdb.ZRange(ctx, instancesByCreation(rb.options.KeyPrefix), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, instanceKey(rb.options.KeyPrefix, id))
	}

	values, err := rb.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading instances: %w", err)
	}

	instances := make([]*core.OrchestrationInstance, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		i, err := unmarshalInstance([]byte(s))
		if err != nil {
			return nil, err
		}

		instances = append(instances, i)
	}

	return instances, nil
}

func unmarshalInstance(data []byte) (*core.OrchestrationInstance, error) {
	var s instanceState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling instance: %w", err)
	}

	return core.NewOrchestrationInstance(s.InstanceID, s.Name, s.Input, s.CreatedAt.UTC()), nil
}
