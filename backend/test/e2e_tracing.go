package test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/itixo/durabletask/client"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/registry"
	"github.com/itixo/durabletask/worker"
	"github.com/itixo/durabletask/workflow"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var e2eTracingTests = []backendTest{
	{
		name: "Tracing/StartHasSpan",
		f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, exporter *tracetest.InMemoryExporter) {
			o := func(ctx workflow.Context) error {
				return nil
			}
			require.NoError(t, w.RegisterOrchestration(o, registry.WithName("Empty")))
			require.NoError(t, w.Start(ctx))

			instanceID := runOrchestration(t, ctx, c, "Empty")
			_, err := client.GetResult[any](ctx, c, instanceID, time.Second*5)
			require.NoError(t, err)

			spans := exporter.GetSpans().Snapshots()

			startSpan := findSpan(spans, func(span trace.ReadOnlySpan) bool {
				return span.Name() == "StartOrchestration: Empty"
			})
			require.NotNil(t, startSpan)
			require.Equal(t, instanceID, spanAttribute(startSpan, log.InstanceIDKey))
		},
	},
	{
		name: "Tracing/ReplayIsChildOfRun",
		f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, exporter *tracetest.InMemoryExporter) {
			o := func(ctx workflow.Context) error {
				return nil
			}
			require.NoError(t, w.RegisterOrchestration(o, registry.WithName("Empty")))
			require.NoError(t, w.Start(ctx))

			instanceID := runOrchestration(t, ctx, c, "Empty")
			_, err := client.GetResult[any](ctx, c, instanceID, time.Second*5)
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return findSpan(exporter.GetSpans().Snapshots(), func(span trace.ReadOnlySpan) bool {
					return span.Name() == "Run: Empty"
				}) != nil
			}, time.Second*5, time.Millisecond*5)

			spans := exporter.GetSpans().Snapshots()

			runSpan := findSpan(spans, func(span trace.ReadOnlySpan) bool {
				return span.Name() == "Run: Empty"
			})
			replaySpan := findSpan(spans, func(span trace.ReadOnlySpan) bool {
				return span.Name() == "Replay: Empty"
			})
			require.NotNil(t, replaySpan)

			require.Equal(t,
				runSpan.SpanContext().SpanID().String(),
				replaySpan.Parent().SpanID().String(),
			)
			require.Equal(t, instanceID, spanAttribute(runSpan, log.InstanceIDKey))
		},
	},
	{
		name: "Tracing/ActivitiesHaveSpans",
		f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, exporter *tracetest.InMemoryExporter) {
			a := func(ctx context.Context) (string, error) {
				return "done", nil
			}
			o := func(ctx workflow.Context) (string, error) {
				return workflow.ExecuteActivity[string](ctx, workflow.DefaultActivityOptions, "Work").Get(ctx)
			}
			require.NoError(t, w.RegisterOrchestration(o, registry.WithName("WithActivity")))
			require.NoError(t, w.RegisterActivity(a, registry.WithName("Work")))
			require.NoError(t, w.Start(ctx))

			instanceID := runOrchestration(t, ctx, c, "WithActivity")
			output, err := client.GetResult[string](ctx, c, instanceID, time.Second*5)
			require.NoError(t, err)
			require.Equal(t, "done", output)

			activitySpan := findSpan(exporter.GetSpans().Snapshots(), func(span trace.ReadOnlySpan) bool {
				return strings.HasPrefix(span.Name(), "Activity: ")
			})
			require.NotNil(t, activitySpan)
			require.Equal(t, "Activity: Work", activitySpan.Name())
			require.Equal(t, instanceID, spanAttribute(activitySpan, log.InstanceIDKey))
		},
	},
	{
		name: "Tracing/CustomSpansAreRecordedOnce",
		f: func(t *testing.T, ctx context.Context, c *client.Client, w *worker.Worker, b TestBackend, exporter *tracetest.InMemoryExporter) {
			a := func(ctx context.Context) error {
				return nil
			}
			o := func(ctx workflow.Context) error {
				ctx, span := workflow.Tracer(ctx).Start(ctx, "custom-span")
				defer span.End()

				_, err := workflow.ExecuteActivity[any](ctx, workflow.DefaultActivityOptions, "Work").Get(ctx)
				return err
			}
			require.NoError(t, w.RegisterOrchestration(o, registry.WithName("WithCustomSpan")))
			require.NoError(t, w.RegisterActivity(a, registry.WithName("Work")))
			require.NoError(t, w.Start(ctx))

			instanceID := runOrchestration(t, ctx, c, "WithCustomSpan")
			_, err := client.GetResult[any](ctx, c, instanceID, time.Second*5)
			require.NoError(t, err)

			spans := exporter.GetSpans().Snapshots()

			var custom []trace.ReadOnlySpan
			for _, span := range spans {
				if span.Name() == "custom-span" {
					custom = append(custom, span)
				}
			}
			require.Len(t, custom, 1)

			replaySpan := findSpan(spans, func(span trace.ReadOnlySpan) bool {
				return span.SpanContext().SpanID() == custom[0].Parent().SpanID()
			})
			require.NotNil(t, replaySpan)
			require.Equal(t, "Replay: WithCustomSpan", replaySpan.Name())
		},
	},
}

func findSpan(spans []trace.ReadOnlySpan, f func(trace.ReadOnlySpan) bool) trace.ReadOnlySpan {
	for _, span := range spans {
		if f(span) {
			return span
		}
	}

	return nil
}

func spanAttribute(span trace.ReadOnlySpan, key string) string {
	for _, kv := range span.Attributes() {
		if kv.Key == attribute.Key(key) {
			return kv.Value.AsString()
		}
	}

	return ""
}
