package client_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/memory"
	"github.com/itixo/durabletask/client"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/worker"
	"github.com/itixo/durabletask/workflow"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func Upper(ctx context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
}

func Shout(ctx workflow.Context, s string) (string, error) {
	return workflow.ExecuteActivity[string](ctx, workflow.DefaultActivityOptions, Upper, s).Get(ctx)
}

func Broken(ctx workflow.Context) (string, error) {
	return "", errors.New("no licence for you")
}

func Blocked(ctx workflow.Context) error {
	_, err := workflow.ExecuteActivity[any](ctx, workflow.DefaultActivityOptions, "Hold").Get(ctx)
	return err
}

type holder struct {
	release chan struct{}
}

func (h *holder) Hold(ctx context.Context) error {
	<-h.release
	return nil
}

func startWorker(t *testing.T) (*client.Client, backend.Backend) {
	t.Helper()

	b := memory.NewMemoryBackend()
	w := worker.New(b, &worker.Options{
		OrchestrationPollers:    1,
		ActivityPollers:         1,
		ActivityPollingInterval: time.Millisecond,
	})

	h := &holder{release: make(chan struct{})}

	require.NoError(t, w.RegisterActivity(Upper))
	require.NoError(t, w.RegisterActivity(h))
	require.NoError(t, w.RegisterOrchestration(Shout))
	require.NoError(t, w.RegisterOrchestration(Broken))
	require.NoError(t, w.RegisterOrchestration(Blocked))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	t.Cleanup(func() {
		close(h.release)
		cancel()
		require.NoError(t, w.WaitForCompletion())
	})

	return client.New(b, w.Coordinator()), b
}

func Test_Client_StartAndGetResult(t *testing.T) {
	c, _ := startWorker(t)
	ctx := context.Background()

	id, err := c.StartOrchestration(ctx, client.StartOptions{InstanceID: "shout-1"}, Shout, "hello")
	require.NoError(t, err)
	require.Equal(t, "shout-1", id)

	r, err := client.GetResult[string](ctx, c, id, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "HELLO", r)

	i, err := c.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStatusCompleted, i.Status)
}

func Test_Client_StartByName(t *testing.T) {
	c, _ := startWorker(t)

	id, err := c.StartOrchestration(context.Background(), client.StartOptions{}, "Shout", "by name")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	r, err := client.GetResult[string](context.Background(), c, id, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "BY NAME", r)
}

func Test_Client_ParamMismatch(t *testing.T) {
	c, _ := startWorker(t)

	_, err := c.StartOrchestration(context.Background(), client.StartOptions{}, Shout, 42)
	require.EqualError(t, err, "mismatched argument type: expected string, got int")

	_, err = c.StartOrchestration(context.Background(), client.StartOptions{}, Shout, "a", "b")
	require.Error(t, err)
}

func Test_Client_DuplicateInstanceID(t *testing.T) {
	c, _ := startWorker(t)
	ctx := context.Background()

	_, err := c.StartOrchestration(ctx, client.StartOptions{InstanceID: "dup"}, Shout, "a")
	require.NoError(t, err)

	_, err = c.StartOrchestration(ctx, client.StartOptions{InstanceID: "dup"}, Shout, "a")
	require.ErrorIs(t, err, backend.ErrInstanceAlreadyExists)
}

func Test_Client_FailedOrchestrationReturnsError(t *testing.T) {
	c, _ := startWorker(t)

	id, err := c.StartOrchestration(context.Background(), client.StartOptions{}, Broken)
	require.NoError(t, err)

	_, err = client.GetResult[string](context.Background(), c, id, 5*time.Second)
	require.ErrorContains(t, err, "no licence for you")
}

func Test_Client_Terminate(t *testing.T) {
	c, _ := startWorker(t)
	ctx := context.Background()

	id, err := c.StartOrchestration(ctx, client.StartOptions{}, Blocked)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		i, err := c.GetStatus(ctx, id)
		return err == nil && i.Status == core.InstanceStatusRunning
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, c.Terminate(ctx, id, "cancelled by customer"))

	_, err = client.GetResult[any](ctx, c, id, 5*time.Second)
	require.ErrorIs(t, err, client.ErrOrchestrationTerminated)
	require.ErrorContains(t, err, "cancelled by customer")
}

func Test_Client_WaitTimesOut(t *testing.T) {
	c, _ := startWorker(t)
	ctx := context.Background()

	id, err := c.StartOrchestration(ctx, client.StartOptions{}, Blocked)
	require.NoError(t, err)

	_, err = c.WaitForOrchestration(ctx, id, 20*time.Millisecond)
	require.ErrorContains(t, err, "did not finish in specified timeout")

	require.NoError(t, c.Terminate(ctx, id, "cleanup"))
}

func Test_Client_Stats(t *testing.T) {
	c, _ := startWorker(t)
	ctx := context.Background()

	id, err := c.StartOrchestration(ctx, client.StartOptions{}, Shout, "a")
	require.NoError(t, err)
	_, err = c.WaitForOrchestration(ctx, id, 5*time.Second)
	require.NoError(t, err)

	s, err := c.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, s.Instances[core.InstanceStatusCompleted])
}
