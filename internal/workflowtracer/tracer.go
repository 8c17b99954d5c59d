package workflowtracer

import (
	"context"

	"github.com/itixo/durabletask/internal/sync"
	"github.com/itixo/durabletask/internal/workflowstate"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type tracerContextKeyType int

const tracerKey tracerContextKeyType = iota

func WithOrchestrationTracer(ctx sync.Context, tracer *OrchestrationTracer) sync.Context {
	return sync.WithValue(ctx, tracerKey, tracer)
}

// Tracer returns the tracer of the running orchestration, or a tracer producing no spans.
func Tracer(ctx sync.Context) *OrchestrationTracer {
	if tracer, ok := ctx.Value(tracerKey).(*OrchestrationTracer); ok {
		return tracer
	}

	return New(noop.NewTracerProvider().Tracer(""), nil)
}

type spanContextKeyType int

const spanKey spanContextKeyType = iota

func ContextWithSpan(ctx sync.Context, span trace.Span) sync.Context {
	return sync.WithValue(ctx, spanKey, span)
}

func SpanFromContext(ctx sync.Context) trace.Span {
	if span, ok := ctx.Value(spanKey).(trace.Span); ok {
		return span
	}

	return nil
}

// OrchestrationTracer starts spans from orchestration code. Spans started while replaying are not recorded,
// they only carry their parent's span context.
type OrchestrationTracer struct {
	root   trace.Span
	tracer trace.Tracer
}

// New returns a tracer whose spans are children of root unless the context carries a span.
func New(tracer trace.Tracer, root trace.Span) *OrchestrationTracer {
	return &OrchestrationTracer{
		root:   root,
		tracer: tracer,
	}
}

func (ot *OrchestrationTracer) Start(ctx sync.Context, name string, opts ...trace.SpanStartOption) (sync.Context, trace.Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		parent = ot.root
	}

	sctx := context.Background()
	if parent != nil {
		sctx = trace.ContextWithSpan(sctx, parent)
	}

	if state := workflowstate.OrchestrationStateFromContext(ctx); state != nil && state.Replaying() {
		span := trace.SpanFromContext(trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(sctx)))
		return ContextWithSpan(ctx, span), span
	}

	_, span := ot.tracer.Start(sctx, name, opts...)

	return ContextWithSpan(ctx, span), span
}
