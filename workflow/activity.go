package workflow

import (
	"fmt"

	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/backend/payload"
	a "github.com/itixo/durabletask/internal/args"
	"github.com/itixo/durabletask/internal/command"
	"github.com/itixo/durabletask/internal/fn"
	"github.com/itixo/durabletask/internal/log"
	"github.com/itixo/durabletask/internal/sync"
	"github.com/itixo/durabletask/internal/workflowstate"
)

type ActivityOptions struct {
	RetryOptions RetryOptions
}

var DefaultActivityOptions = ActivityOptions{
	RetryOptions: DefaultRetryOptions,
}

// ExecuteActivity schedules the given activity to be executed. activity is either the activity function or the
// name it was registered under. At most one argument is passed to the activity.
//
// Failed attempts are rescheduled under a new task id until options.RetryOptions.MaxAttempts is reached or the
// error is permanent.
func ExecuteActivity[TResult any](ctx Context, options ActivityOptions, activity Activity, args ...any) Future[TResult] {
	if _, ok := activity.(string); !ok {
		// Check return type
		if err := a.ReturnTypeMatch[TResult](activity); err != nil {
			return newSettledFuture(*new(TResult), err)
		}

		// Check arguments
		if err := a.ParamsMatch(activity, args...); err != nil {
			return newSettledFuture(*new(TResult), err)
		}
	}

	if len(args) > 1 {
		return newSettledFuture(*new(TResult), fmt.Errorf("activities accept at most one argument, got %d", len(args)))
	}

	var input payload.Payload
	if len(args) == 1 {
		var err error
		input, err = converter.DefaultConverter.To(args[0])
		if err != nil {
			return newSettledFuture(*new(TResult), fmt.Errorf("converting activity input: %w", err))
		}
	}

	f := &activityFuture[TResult]{
		options: options,
		name:    fn.NameOf(activity),
		input:   input,
	}

	f.schedule(ctx)

	return f
}

type activityFuture[T any] struct {
	options ActivityOptions
	name    string
	input   payload.Payload

	attempt int
	current sync.SettableFuture[payload.Payload]

	ready bool
	v     T
	err   error
}

func (f *activityFuture[T]) schedule(ctx Context) {
	f.attempt++

	state := workflowstate.OrchestrationStateFromContext(ctx)
	taskID := state.GetNextTaskID()

	current := sync.NewFuture[payload.Payload]()
	f.current = current

	state.AddCommand(command.NewScheduleActivityCommand(taskID, f.name, f.input, f.attempt))
	state.TrackFuture(taskID, current.Set)

	state.Logger().Debug("scheduling activity",
		log.ActivityNameKey, f.name,
		log.TaskIDKey, taskID,
		log.AttemptKey, f.attempt)
}

func (f *activityFuture[T]) poll(ctx Context) {
	if f.ready || !f.current.Ready() {
		return
	}

	result, err := f.current.Get(ctx)
	if err != nil {
		if f.options.RetryOptions.shouldRetry(f.attempt, err) {
			workflowstate.OrchestrationStateFromContext(ctx).Logger().Debug("retrying activity",
				log.ActivityNameKey, f.name,
				log.AttemptKey, f.attempt,
				"error", err)

			f.schedule(ctx)
			return
		}

		f.ready = true
		f.err = err
		return
	}

	f.ready = true
	if err := converter.DefaultConverter.From(result, &f.v); err != nil {
		f.err = fmt.Errorf("converting activity result: %w", err)
	}
}

func (f *activityFuture[T]) Get(ctx Context) (T, error) {
	for {
		f.poll(ctx)

		if f.ready {
			return f.v, f.err
		}

		sync.Yield(ctx)
	}
}

func (f *activityFuture[T]) Ready() bool {
	return f.ready
}

func (f *activityFuture[T]) error() error {
	return f.err
}
