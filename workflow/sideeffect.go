package workflow

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/internal/command"
	"github.com/itixo/durabletask/internal/workflowstate"
)

// SideEffect runs f once and records its result in the history. On replay f is not executed, the recorded
// result is returned instead.
func SideEffect[TResult any](ctx Context, f func(ctx Context) TResult) Future[TResult] {
	state := workflowstate.OrchestrationStateFromContext(ctx)
	taskID := state.GetNextTaskID()

	if recorded, ok := state.RecordedSideEffect(taskID); ok {
		state.AddCommand(command.NewSideEffectCommand(taskID, recorded))

		var r TResult
		if err := converter.DefaultConverter.From(recorded, &r); err != nil {
			return newSettledFuture(r, fmt.Errorf("converting side effect result: %w", err))
		}

		return newSettledFuture(r, nil)
	}

	// Execute side effect
	r := f(ctx)

	p, err := converter.DefaultConverter.To(r)
	if err != nil {
		return newSettledFuture(*new(TResult), fmt.Errorf("converting side effect result: %w", err))
	}

	state.AddCommand(command.NewSideEffectCommand(taskID, p))

	return newSettledFuture(r, nil)
}

// Now returns the current time. The first execution records the time, replays return the recorded value.
func Now(ctx Context) time.Time {
	t, _ := SideEffect(ctx, func(ctx Context) time.Time {
		return workflowstate.OrchestrationStateFromContext(ctx).Clock().Now().UTC()
	}).Get(ctx)

	return t
}

// NewRandom returns a random source seeded with a recorded seed, so replays produce the same sequence.
func NewRandom(ctx Context) *rand.Rand {
	seed, _ := SideEffect(ctx, func(ctx Context) int64 {
		return rand.Int63()
	}).Get(ctx)

	return rand.New(rand.NewSource(seed))
}

// NewGUID returns a new uuid. The first execution records it, replays return the recorded value.
func NewGUID(ctx Context) string {
	id, _ := SideEffect(ctx, func(ctx Context) string {
		return uuid.NewString()
	}).Get(ctx)

	return id
}
