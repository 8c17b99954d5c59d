package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_RunQueue_Deduplicates(t *testing.T) {
	q := newRunQueue()

	q.add("a")
	q.add("b")
	q.add("a")

	require.Equal(t, 2, q.len())

	id, err := q.next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", id)

	// Taken ids can be queued again
	q.add("a")
	require.Equal(t, 2, q.len())
}

func Test_RunQueue_NextHonorsContext(t *testing.T) {
	q := newRunQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_InstanceLocks_Serialize(t *testing.T) {
	l := newInstanceLocks()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unlock := l.lock("a")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxInside)
	require.Empty(t, l.locks)
}
