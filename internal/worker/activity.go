package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/activity"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/internal/metrickeys"
	"github.com/itixo/durabletask/internal/workflowerrors"
	"github.com/itixo/durabletask/metrics"
	"github.com/itixo/durabletask/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ActivitySource is where activity workers take calls from and report results to.
type ActivitySource interface {
	Next(ctx context.Context) (*core.PendingActivityCall, error)
	Extend(ctx context.Context, call *core.PendingActivityCall) error
	ReportResult(ctx context.Context, instanceID string, taskID int64, result payload.Payload, taskErr error) error
}

type ActivityResult struct {
	Result payload.Payload
	Err    error
}

type ActivityTaskWorker struct {
	source   ActivitySource
	registry *registry.Registry
	logger   *slog.Logger
	metrics  metrics.Client
	tracer   trace.Tracer
}

var _ TaskWorker[core.PendingActivityCall, ActivityResult] = (*ActivityTaskWorker)(nil)

func NewActivityTaskWorker(
	source ActivitySource, r *registry.Registry, logger *slog.Logger, mc metrics.Client, tracer trace.Tracer,
) *ActivityTaskWorker {
	return &ActivityTaskWorker{
		source:   source,
		registry: r,
		logger:   logger,
		metrics:  mc,
		tracer:   tracer,
	}
}

func (aw *ActivityTaskWorker) Get(ctx context.Context) (*core.PendingActivityCall, error) {
	return aw.source.Next(ctx)
}

func (aw *ActivityTaskWorker) Extend(ctx context.Context, call *core.PendingActivityCall) error {
	return aw.source.Extend(ctx, call)
}

// Execute runs the activity. Failures of the activity itself are part of the result, not an error.
func (aw *ActivityTaskWorker) Execute(ctx context.Context, call *core.PendingActivityCall) (*ActivityResult, error) {
	as := activity.NewActivityState(call.InstanceID, call.TaskID, call.Name, call.Attempt, aw.logger)
	ctx = activity.WithActivityState(ctx, as)

	ctx, span := aw.tracer.Start(ctx, fmt.Sprintf("Activity: %s", call.Name), trace.WithAttributes(
		attribute.String(log.InstanceIDKey, call.InstanceID),
		attribute.String(log.ActivityNameKey, call.Name),
		attribute.Int64(log.TaskIDKey, call.TaskID),
		attribute.Int(log.AttemptKey, call.Attempt),
	))
	defer span.End()

	timer := metrics.Timer(aw.metrics, metrickeys.ActivityTaskProcessed, metrics.Tags{metrickeys.ActivityName: call.Name})
	defer timer.Stop()

	as.Logger.Debug("Executing activity")

	result, err := aw.registry.Invoke(ctx, call.Name, call.Input)
	if err != nil {
		// Retrying cannot help when this worker does not know the activity
		var uErr *registry.UnknownActivityError
		if errors.As(err, &uErr) {
			err = workflowerrors.NewPermanentError(err)
		}

		span.SetStatus(codes.Error, err.Error())
		as.Logger.Debug("Activity failed", "error", err)
	}

	return &ActivityResult{Result: result, Err: err}, nil
}

func (aw *ActivityTaskWorker) Complete(ctx context.Context, result *ActivityResult, call *core.PendingActivityCall) error {
	if err := aw.source.ReportResult(ctx, call.InstanceID, call.TaskID, result.Result, result.Err); err != nil {
		return fmt.Errorf("reporting result of task %d: %w", call.TaskID, err)
	}

	return nil
}
