package workflow

import (
	"github.com/itixo/durabletask/internal/workflowtracer"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for custom spans in orchestration code. Spans become children of the current replay
// pass and are only recorded for code that runs for the first time.
func Tracer(ctx Context) *workflowtracer.OrchestrationTracer {
	return workflowtracer.Tracer(ctx)
}

// Span is a span started by Tracer.
type Span = trace.Span
