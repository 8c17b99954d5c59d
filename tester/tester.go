// Package tester runs an orchestration in-process against an in-memory history, with optional mocked activities.
package tester

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/activity"
	"github.com/itixo/durabletask/internal/args"
	"github.com/itixo/durabletask/internal/fn"
	"github.com/itixo/durabletask/internal/workflowerrors"
	"github.com/itixo/durabletask/registry"
	"github.com/itixo/durabletask/workflow"
	"github.com/itixo/durabletask/workflow/executor"
	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace/noop"
)

const instanceID = "test-instance"

// OrchestrationTester executes an orchestration pass by pass. Activities scheduled in a pass run in task id
// order before the next pass, either as registered or as mocked with OnActivity.
type OrchestrationTester[TResult any] struct {
	options *options

	orchestration workflow.Orchestration
	name          string

	registry *registry.Registry
	executor *executor.Executor
	clock    *clock.Mock
	logger   *slog.Logger

	ma               *mock.Mock
	mockedActivities map[string]bool

	events   []*history.Event
	instance *core.OrchestrationInstance
}

func NewOrchestrationTester[TResult any](orchestration workflow.Orchestration, opts ...OrchestrationTesterOption) *OrchestrationTester[TResult] {
	options := &options{
		Logger:    slog.Default(),
		StartTime: time.Now().UTC(),
		MaxPasses: 1000,
	}

	for _, o := range opts {
		o(options)
	}

	r := registry.New()
	if err := r.RegisterOrchestration(orchestration); err != nil {
		panic(fmt.Sprintf("registering orchestration: %v", err))
	}

	c := clock.NewMock()
	c.Set(options.StartTime)

	return &OrchestrationTester[TResult]{
		options:          options,
		orchestration:    orchestration,
		name:             fn.Name(orchestration),
		registry:         r,
		executor:         executor.NewExecutor(options.Logger, noop.NewTracerProvider().Tracer("tester"), r, c),
		clock:            c,
		logger:           options.Logger,
		ma:               &mock.Mock{},
		mockedActivities: make(map[string]bool),
	}
}

// Now returns the current time of the tester's clock.
func (ot *OrchestrationTester[TResult]) Now() time.Time {
	return ot.clock.Now()
}

// Registry returns the registry used for activities that are not mocked.
func (ot *OrchestrationTester[TResult]) Registry() *registry.Registry {
	return ot.registry
}

// OnActivity registers a mock for the given activity. Once mocked, the activity's implementation is never called.
func (ot *OrchestrationTester[TResult]) OnActivity(activity workflow.Activity, args ...any) *mock.Call {
	return ot.OnActivityByName(fn.Name(activity), activity, args...)
}

// OnActivityByName registers a mock for the activity with the given name. activity is used to decode the
// arguments of scheduled calls.
func (ot *OrchestrationTester[TResult]) OnActivityByName(name string, activity workflow.Activity, args ...any) *mock.Call {
	if !ot.mockedActivities[name] {
		if err := ot.registry.RegisterActivity(activity, registry.WithName(name)); err != nil {
			panic(fmt.Sprintf("registering activity %s: %v", name, err))
		}
	}

	ot.mockedActivities[name] = true

	return ot.ma.On(name, args...)
}

// Execute starts the orchestration with the given argument and runs it until it finishes.
func (ot *OrchestrationTester[TResult]) Execute(ctx context.Context, a ...any) {
	if len(a) > 1 {
		panic("orchestrations accept at most one argument")
	}

	var input payload.Payload
	if len(a) == 1 {
		var err error
		if input, err = converter.DefaultConverter.To(a[0]); err != nil {
			panic(fmt.Sprintf("converting input: %v", err))
		}
	}

	ot.instance = core.NewOrchestrationInstance(instanceID, ot.name, input, ot.clock.Now())
	ot.events = nil
	ot.append(history.NewHistoryEvent(ot.clock.Now(), history.EventType_OrchestratorStarted,
		&history.OrchestratorStartedAttributes{Name: ot.name, Input: input}))

	for pass := 0; pass < ot.options.MaxPasses; pass++ {
		r, err := ot.executor.Replay(ctx, ot.instance, ot.events)
		if err != nil {
			panic(fmt.Sprintf("replaying orchestration: %v", err))
		}

		ot.append(r.NewEvents...)

		if r.Status != executor.StatusSuspended {
			history.ApplyToInstance(ot.instance, ot.events)
			return
		}

		outstanding := history.OutstandingTasks(ot.events)
		if len(outstanding) == 0 {
			panic("orchestration is suspended without outstanding tasks")
		}

		slices.SortFunc(outstanding, func(a, b *history.Event) int {
			return int(a.TaskID - b.TaskID)
		})

		for _, e := range outstanding {
			ot.append(ot.executeActivity(ctx, e))
		}
	}

	panic(fmt.Sprintf("orchestration did not finish within %d passes", ot.options.MaxPasses))
}

func (ot *OrchestrationTester[TResult]) append(events ...*history.Event) {
	history.AssignSequenceIDs(history.LastSequenceID(ot.events), events)
	ot.events = append(ot.events, events...)
}

func (ot *OrchestrationTester[TResult]) executeActivity(ctx context.Context, scheduled *history.Event) *history.Event {
	a := scheduled.Attributes.(*history.TaskScheduledAttributes)

	logger := ot.logger.With("activity", a.Name, "task_id", scheduled.TaskID)
	ctx = activity.WithActivityState(ctx,
		activity.NewActivityState(ot.instance.InstanceID, scheduled.TaskID, a.Name, a.Attempt, logger))

	var result payload.Payload
	var err error

	if ot.mockedActivities[a.Name] {
		result, err = ot.callMock(ctx, a)
	} else {
		result, err = ot.registry.Invoke(ctx, a.Name, a.Input)
	}

	if err != nil {
		return history.NewHistoryEvent(ot.clock.Now(), history.EventType_TaskFailed,
			&history.TaskFailedAttributes{Error: workflowerrors.FromError(err)}, history.TaskID(scheduled.TaskID))
	}

	return history.NewHistoryEvent(ot.clock.Now(), history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{Result: result}, history.TaskID(scheduled.TaskID))
}

func (ot *OrchestrationTester[TResult]) callMock(ctx context.Context, a *history.TaskScheduledAttributes) (payload.Payload, error) {
	afn, err := ot.registry.GetActivity(a.Name)
	if err != nil {
		panic("could not find activity " + a.Name + " in registry")
	}

	argValues, addContext, err := args.InputToArgs(converter.DefaultConverter, reflect.ValueOf(afn), a.Input)
	if err != nil {
		panic("could not convert activity input to args: " + err.Error())
	}

	callArgs := make([]any, len(argValues))
	for i, arg := range argValues {
		if i == 0 && addContext {
			callArgs[i] = ctx
			continue
		}

		callArgs[i] = arg.Interface()
	}

	results := ot.ma.MethodCalled(a.Name, callArgs...)

	switch len(results) {
	case 1:
		// Only an error
		return nil, results.Error(0)

	case 2:
		result, err := converter.DefaultConverter.To(results.Get(0))
		if err != nil {
			panic("could not convert result for activity " + a.Name + ": " + err.Error())
		}

		return result, results.Error(1)

	default:
		panic(fmt.Sprintf("mocked activity %v returned %v values, expected 1 or 2", a.Name, len(results)))
	}
}

// Finished reports whether the orchestration has completed, failed or been terminated.
func (ot *OrchestrationTester[TResult]) Finished() bool {
	return ot.instance != nil && ot.instance.Status.Terminal()
}

// Status returns the status of the executed instance.
func (ot *OrchestrationTester[TResult]) Status() core.InstanceStatus {
	if ot.instance == nil {
		return core.InstanceStatusPending
	}

	return ot.instance.Status
}

// Result returns the output or the error of the finished orchestration.
func (ot *OrchestrationTester[TResult]) Result() (TResult, error) {
	var r TResult

	if !ot.Finished() {
		panic("orchestration not finished")
	}

	for i := len(ot.events) - 1; i >= 0; i-- {
		if ot.events[i].Type != history.EventType_OrchestratorCompleted {
			continue
		}

		a := ot.events[i].Attributes.(*history.OrchestratorCompletedAttributes)
		if a.Error != nil {
			return r, workflowerrors.ToError(a.Error)
		}

		if err := converter.DefaultConverter.From(a.Result, &r); err != nil {
			return r, fmt.Errorf("converting orchestration result: %w", err)
		}

		break
	}

	return r, nil
}

// History returns the events recorded while executing the orchestration.
func (ot *OrchestrationTester[TResult]) History() []*history.Event {
	return ot.events
}

func (ot *OrchestrationTester[TResult]) AssertExpectations(t *testing.T) {
	ot.ma.AssertExpectations(t)
}
