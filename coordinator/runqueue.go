package coordinator

import (
	"context"
	"sync"
)

// runQueue holds the ids of instances waiting for a run. An id is queued at most once; requesting a run for an
// instance that is currently running queues it again.
type runQueue struct {
	mu     sync.Mutex
	ids    []string
	queued map[string]bool
	signal chan struct{}
}

func newRunQueue() *runQueue {
	return &runQueue{
		queued: make(map[string]bool),
		signal: make(chan struct{}, 1),
	}
}

func (q *runQueue) add(instanceID string) {
	q.mu.Lock()
	if !q.queued[instanceID] {
		q.queued[instanceID] = true
		q.ids = append(q.ids, instanceID)
	}
	q.mu.Unlock()

	q.notify()
}

func (q *runQueue) next(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.ids) > 0 {
			id := q.ids[0]
			q.ids = q.ids[1:]
			delete(q.queued, id)
			remaining := len(q.ids)
			q.mu.Unlock()

			if remaining > 0 {
				q.notify()
			}

			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (q *runQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ids)
}

func (q *runQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
