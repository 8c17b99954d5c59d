package test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/client"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/fn"
	"github.com/itixo/durabletask/scheduler"
	"github.com/itixo/durabletask/worker"
	"github.com/itixo/durabletask/workflow"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type queueBackend interface {
	NewQueue() scheduler.Queue
}

type backendTest struct {
	name string
	f    func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, spans *tracetest.InMemoryExporter)
}

// EndToEndBackendTest runs orchestrations through a worker and a client against the backend.
func EndToEndBackendTest(t *testing.T, setup func(options ...backend.BackendOption) TestBackend, teardown func(b TestBackend)) {
	tests := []backendTest{
		{
			name: "SimpleOrchestration",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				o := func(ctx workflow.Context, msg string) (string, error) {
					return msg + " world", nil
				}
				register(t, ctx, w, []any{o}, nil)

				output, err := runOrchestrationWithResult[string](t, ctx, c, o, "hello")

				require.NoError(t, err)
				require.Equal(t, "hello world", output)
			},
		},
		{
			name: "UnregisteredOrchestration",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				register(t, ctx, w, nil, nil)

				output, err := runOrchestrationWithResult[string](t, ctx, c, "Missing", "hello")

				require.Zero(t, output)
				require.ErrorContains(t, err, "Missing")
			},
		},
		{
			name: "OrchestrationInputMismatch",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				o := func(ctx workflow.Context, p1 int) (int, error) {
					return 42, nil
				}
				register(t, ctx, w, []any{o}, nil)

				output, err := runOrchestrationWithResult[int](t, ctx, c, fn.Name(o), "not a number")

				require.Zero(t, output)
				require.Error(t, err)
			},
		},
		{
			name: "UnregisteredActivity",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				o := func(ctx workflow.Context) (int, error) {
					return workflow.ExecuteActivity[int](ctx, workflow.DefaultActivityOptions, "Missing").Get(ctx)
				}
				register(t, ctx, w, []any{o}, nil)

				output, err := runOrchestrationWithResult[int](t, ctx, c, o)

				require.Zero(t, output)
				require.ErrorContains(t, err, `activity "Missing" not registered`)
			},
		},
		{
			name: "ActivitiesInSequence",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				double := func(ctx context.Context, n int) (int, error) {
					return n * 2, nil
				}
				o := func(ctx workflow.Context, n int) (int, error) {
					for i := 0; i < 3; i++ {
						var err error
						n, err = workflow.ExecuteActivity[int](ctx, workflow.DefaultActivityOptions, double, n).Get(ctx)
						if err != nil {
							return 0, err
						}
					}

					return n, nil
				}
				register(t, ctx, w, []any{o}, []any{double})

				output, err := runOrchestrationWithResult[int](t, ctx, c, o, 1)

				require.NoError(t, err)
				require.Equal(t, 8, output)
			},
		},
		{
			name: "FanOutFanIn",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				square := func(ctx context.Context, n int) (int, error) {
					return n * n, nil
				}
				o := func(ctx workflow.Context) (int, error) {
					fs := make([]workflow.Future[int], 0)
					for i := 1; i <= 5; i++ {
						fs = append(fs, workflow.ExecuteActivity[int](ctx, workflow.DefaultActivityOptions, square, i))
					}

					sum := 0
					for _, f := range fs {
						r, err := f.Get(ctx)
						if err != nil {
							return 0, err
						}
						sum += r
					}

					return sum, nil
				}
				register(t, ctx, w, []any{o}, []any{square})

				output, err := runOrchestrationWithResult[int](t, ctx, c, o)

				require.NoError(t, err)
				require.Equal(t, 55, output)
			},
		},
		{
			name: "ActivityRetries",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				var calls atomic.Int32
				flaky := func(ctx context.Context) (int, error) {
					if calls.Add(1) < 2 {
						return 0, errors.New("try again")
					}

					return 42, nil
				}
				o := func(ctx workflow.Context) (int, error) {
					return workflow.ExecuteActivity[int](ctx, workflow.ActivityOptions{
						RetryOptions: workflow.RetryOptions{MaxAttempts: 2},
					}, flaky).Get(ctx)
				}
				register(t, ctx, w, []any{o}, []any{flaky})

				instanceID := runOrchestration(t, ctx, c, o)
				output, err := client.GetResult[int](ctx, c, instanceID, time.Second*10)

				require.NoError(t, err)
				require.Equal(t, 42, output)

				events, err := b.ReadAll(ctx, instanceID)
				require.NoError(t, err)
				require.Equal(t, 2, countEvents(events, history.EventType_TaskScheduled))
				require.Equal(t, 1, countEvents(events, history.EventType_TaskFailed))
			},
		},
		{
			name: "SideEffectsAreRecorded",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				noop := func(ctx context.Context) error { return nil }
				o := func(ctx workflow.Context) (string, error) {
					id := workflow.NewGUID(ctx)

					// Forces a replay after the id has been recorded
					if _, err := workflow.ExecuteActivity[any](ctx, workflow.DefaultActivityOptions, noop).Get(ctx); err != nil {
						return "", err
					}

					return id, nil
				}
				register(t, ctx, w, []any{o}, []any{noop})

				instanceID := runOrchestration(t, ctx, c, o)
				output, err := client.GetResult[string](ctx, c, instanceID, time.Second*10)
				require.NoError(t, err)

				events, err := b.ReadAll(ctx, instanceID)
				require.NoError(t, err)
				require.Equal(t, 1, countEvents(events, history.EventType_SideEffectRecorded))

				_, err = uuid.Parse(output)
				require.NoError(t, err)
			},
		},
		{
			name: "TerminateRunningOrchestration",
			f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
				release := make(chan struct{})
				defer close(release)

				wait := func(ctx context.Context) error {
					<-release
					return nil
				}
				o := func(ctx workflow.Context) error {
					_, err := workflow.ExecuteActivity[any](ctx, workflow.DefaultActivityOptions, wait).Get(ctx)
					return err
				}
				register(t, ctx, w, []any{o}, []any{wait})

				instanceID := runOrchestration(t, ctx, c, o)
				require.Eventually(t, func() bool {
					i, err := c.GetStatus(ctx, instanceID)
					return err == nil && i.Status == core.InstanceStatusRunning
				}, 10*time.Second, 5*time.Millisecond)

				require.NoError(t, c.Terminate(ctx, instanceID, "no longer needed"))

				i, err := c.WaitForOrchestration(ctx, instanceID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, core.InstanceStatusTerminated, i.Status)
			},
		},
	}

	tests = append(tests, e2eActivityTests...)
	tests = append(tests, e2eTracingTests...)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := tracetest.NewInMemoryExporter()
			provider := trace.NewTracerProvider(trace.WithSyncer(exporter))

			b := setup(backend.WithTracerProvider(provider))
			ctx, cancel := context.WithCancel(context.Background())

			options := &worker.Options{
				OrchestrationPollers:      2,
				ActivityPollers:           2,
				ActivityPollingInterval:   time.Millisecond,
				ActivityHeartbeatInterval: time.Second,
			}

			// Backends that share activity calls between processes bring their own queue
			if qb, ok := b.(queueBackend); ok {
				options.ActivityQueue = qb.NewQueue()
			}

			w := worker.New(b, options)
			c := client.New(b, w.Coordinator())

			tt.f(t, ctx, c, w, b, exporter)

			cancel()
			require.NoError(t, w.WaitForCompletion())
			require.NoError(t, provider.Shutdown(context.Background()))

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func register(t *testing.T, ctx context.Context, w *worker.Worker, orchestrations []any, activities []any) {
	for _, o := range orchestrations {
		require.NoError(t, w.RegisterOrchestration(o))
	}

	for _, a := range activities {
		require.NoError(t, w.RegisterActivity(a))
	}

	require.NoError(t, w.Start(ctx))
}

func runOrchestration(t *testing.T, ctx context.Context, c *client.Client, o any, args ...any) string {
	instanceID, err := c.StartOrchestration(ctx, client.StartOptions{
		InstanceID: uuid.NewString(),
	}, o, args...)
	require.NoError(t, err)

	return instanceID
}

func runOrchestrationWithResult[T any](t *testing.T, ctx context.Context, c *client.Client, o any, args ...any) (T, error) {
	instanceID := runOrchestration(t, ctx, c, o, args...)
	return client.GetResult[T](ctx, c, instanceID, time.Second*10)
}

func countEvents(events []*history.Event, et history.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == et {
			n++
		}
	}

	return n
}
