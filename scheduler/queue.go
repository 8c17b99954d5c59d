package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/itixo/durabletask/core"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue hands pending activity calls from the scheduler to activity workers.
type Queue interface {
	Enqueue(ctx context.Context, call *core.PendingActivityCall) error

	// Dequeue blocks until a call is available or ctx is done.
	Dequeue(ctx context.Context) (*core.PendingActivityCall, error)

	Close() error
}

// DispatchMarker is implemented by queues shared between processes. A call marked as dispatched is not
// dispatched again by Schedule, in any process, until the mark expires or is removed.
type DispatchMarker interface {
	// Mark marks the call with the given key as dispatched for ttl. It returns false if it already was.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Renew marks the call as dispatched for ttl whether or not it already was.
	Renew(ctx context.Context, key string, ttl time.Duration) error

	Unmark(ctx context.Context, key string) error
}

type memoryQueue struct {
	mu     sync.Mutex
	calls  []*core.PendingActivityCall
	signal chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewMemoryQueue returns an unbounded in-process queue.
func NewMemoryQueue() Queue {
	return &memoryQueue{
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (q *memoryQueue) Enqueue(_ context.Context, call *core.PendingActivityCall) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	q.mu.Lock()
	q.calls = append(q.calls, call)
	q.mu.Unlock()

	q.notify()

	return nil
}

func (q *memoryQueue) Dequeue(ctx context.Context) (*core.PendingActivityCall, error) {
	for {
		q.mu.Lock()
		if len(q.calls) > 0 {
			call := q.calls[0]
			q.calls = q.calls[1:]
			remaining := len(q.calls)
			q.mu.Unlock()

			if remaining > 0 {
				q.notify()
			}

			return call, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.closed:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *memoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) Close() error {
	q.once.Do(func() {
		close(q.closed)
	})

	return nil
}
