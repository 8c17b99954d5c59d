package test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/itixo/durabletask/client"
	"github.com/itixo/durabletask/worker"
	"github.com/itixo/durabletask/workflow"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type CustomError struct {
	msg string
}

func (e *CustomError) Error() string {
	return e.msg
}

var e2eActivityTests = []backendTest{
	{
		name: "Activity_Panic",
		f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
			a := func(context.Context) error {
				panic("activity panic")
			}

			o := func(ctx workflow.Context) (bool, error) {
				_, err := workflow.ExecuteActivity[int](ctx, workflow.DefaultActivityOptions, a).Get(ctx)

				var perr *workflow.PanicError
				return errors.As(err, &perr), nil
			}
			register(t, ctx, w, []any{o}, []any{a})

			output, err := runOrchestrationWithResult[bool](t, ctx, c, o)

			require.True(t, output, "error should be PanicError")
			require.NoError(t, err)
		},
	},
	{
		name: "Activity_CustomError",
		f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
			a := func(context.Context) error {
				return &CustomError{msg: "custom error"}
			}

			o := func(ctx workflow.Context) (bool, error) {
				_, err := workflow.ExecuteActivity[int](ctx, workflow.DefaultActivityOptions, a).Get(ctx)

				for err != nil {
					var werr *workflow.Error
					if !errors.As(err, &werr) {
						return false, nil
					}

					if werr.Type == "CustomError" {
						return werr.Error() == "custom error", nil
					}

					err = werr.Unwrap()
				}

				return false, nil
			}
			register(t, ctx, w, []any{o}, []any{a})

			output, err := runOrchestrationWithResult[bool](t, ctx, c, o)

			require.True(t, output, "error should carry the CustomError type")
			require.NoError(t, err)
		},
	},
	{
		name: "Activity_PermanentErrorIsNotRetried",
		f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, _ *tracetest.InMemoryExporter) {
			var calls atomic.Int32
			a := func(context.Context) error {
				calls.Add(1)
				return workflow.NewPermanentError(errors.New("invalid order"))
			}

			o := func(ctx workflow.Context) error {
				_, err := workflow.ExecuteActivity[any](ctx, workflow.ActivityOptions{
					RetryOptions: workflow.RetryOptions{MaxAttempts: 3},
				}, a).Get(ctx)

				return err
			}
			register(t, ctx, w, []any{o}, []any{a})

			_, err := runOrchestrationWithResult[any](t, ctx, c, o)

			require.ErrorContains(t, err, "invalid order")
			require.EqualValues(t, 1, calls.Load())
		},
	},
}
