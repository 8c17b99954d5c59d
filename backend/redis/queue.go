package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/scheduler"
	"github.com/redis/go-redis/v9"
)

// queue is a FIFO of pending activity calls backed by a redis list. Dispatch marks are plain keys with an
// expiry, so they survive the process that set them.
type queue struct {
	rdb          redis.UniversalClient
	keyPrefix    string
	key          string
	blockTimeout time.Duration
	closed       atomic.Bool
}

var (
	_ scheduler.Queue          = (*queue)(nil)
	_ scheduler.DispatchMarker = (*queue)(nil)
)

func newQueue(rdb redis.UniversalClient, keyPrefix string, blockTimeout time.Duration) *queue {
	return &queue{
		rdb:          rdb,
		keyPrefix:    keyPrefix,
		key:          activityQueueKey(keyPrefix),
		blockTimeout: blockTimeout,
	}
}

func (q *queue) Enqueue(ctx context.Context, call *core.PendingActivityCall) error {
	if q.closed.Load() {
		return scheduler.ErrQueueClosed
	}

	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshaling call: %w", err)
	}

	return q.rdb.LPush(ctx, q.key, data).Err()
}

func (q *queue) Dequeue(ctx context.Context) (*core.PendingActivityCall, error) {
	for {
		if q.closed.Load() {
			return nil, scheduler.ErrQueueClosed
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r, err := q.rdb.BRPop(ctx, q.blockTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("popping call: %w", err)
		}

		// r[0] is the key, r[1] the value
		call := &core.PendingActivityCall{}
		if err := json.Unmarshal([]byte(r[1]), call); err != nil {
			return nil, fmt.Errorf("unmarshaling call: %w", err)
		}

		return call, nil
	}
}

func (q *queue) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return q.rdb.SetNX(ctx, dispatchedKey(q.keyPrefix, key), 1, ttl).Result()
}

func (q *queue) Renew(ctx context.Context, key string, ttl time.Duration) error {
	return q.rdb.Set(ctx, dispatchedKey(q.keyPrefix, key), 1, ttl).Err()
}

func (q *queue) Unmark(ctx context.Context, key string) error {
	return q.rdb.Del(ctx, dispatchedKey(q.keyPrefix, key)).Err()
}

func (q *queue) Close() error {
	q.closed.Store(true)
	return nil
}
