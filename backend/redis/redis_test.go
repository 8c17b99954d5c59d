package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/test"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/scheduler"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func getClient(t *testing.T) redis.UniversalClient {
	t.Helper()

	address := os.Getenv("DURABLETASK_REDIS_ADDR")
	if testing.Short() || address == "" {
		t.Skip("set DURABLETASK_REDIS_ADDR to run against a redis server")
	}

	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{address},
		Password: os.Getenv("DURABLETASK_REDIS_PASSWORD"),
		DB:       0,
	})
}

func getCreateBackend(t *testing.T, client redis.UniversalClient) func(options ...backend.BackendOption) test.TestBackend {
	return func(options ...backend.BackendOption) test.TestBackend {
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatal(err)
		}

		b, err := NewRedisBackend(client, WithBlockTimeout(10*time.Millisecond), WithBackendOptions(options...))
		require.NoError(t, err)

		return b
	}
}

func Test_RedisBackend(t *testing.T) {
	client := getClient(t)
	defer client.Close()

	// The client is shared between tests
	test.HistoryStoreTest(t, getCreateBackend(t, client), nil)
}

func Test_EndToEndRedisBackend(t *testing.T) {
	client := getClient(t)
	defer client.Close()

	test.EndToEndBackendTest(t, getCreateBackend(t, client), nil)
}

func Test_RedisQueue(t *testing.T) {
	client := getClient(t)
	defer client.Close()

	b := getCreateBackend(t, client)().(*redisBackend)
	q := b.NewQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &core.PendingActivityCall{InstanceID: "a", TaskID: 1, Name: "GenerateOrder", Attempt: 1}))
	require.NoError(t, q.Enqueue(ctx, &core.PendingActivityCall{InstanceID: "a", TaskID: 2, Name: "Notify", Attempt: 1}))

	c, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.TaskID)
	require.Equal(t, "GenerateOrder", c.Name)

	c, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), c.TaskID)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(tctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.Close())
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, scheduler.ErrQueueClosed)
}

func Test_RedisQueue_DispatchSurvivesRestart(t *testing.T) {
	client := getClient(t)
	defer client.Close()

	b := getCreateBackend(t, client)().(*redisBackend)
	ctx := context.Background()

	require.NoError(t, b.CreateInstance(ctx, core.NewOrchestrationInstance("order-1", "o", nil, time.Now())))
	require.NoError(t, b.Append(ctx, "order-1", history.NewHistoryEvent(time.Now(), history.EventType_OrchestratorStarted,
		&history.OrchestratorStartedAttributes{Name: "o"}, history.SequenceID(1))))

	call := &core.PendingActivityCall{InstanceID: "order-1", TaskID: 1, Name: "GenerateOrder", Attempt: 1}

	// The first process pushes the call and stops before a worker pops it
	s1 := scheduler.New(b, b.NewQueue(), clock.New())
	require.NoError(t, s1.Schedule(ctx, call))

	s2 := scheduler.New(b, b.NewQueue(), clock.New())
	require.NoError(t, s2.Schedule(ctx, call))

	require.Equal(t, int64(1), client.LLen(ctx, activityQueueKey("")).Val())
	require.Equal(t, int64(1), client.Exists(ctx, dispatchedKey("", call.Key())).Val())

	c, err := s2.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, s2.ReportResult(ctx, c.InstanceID, c.TaskID, []byte(`"ORD-1"`), nil))

	require.Zero(t, client.Exists(ctx, dispatchedKey("", call.Key())).Val())
}
