package executor

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/itixo/durabletask/backend/converter"
	"github.com/itixo/durabletask/backend/payload"
	"github.com/itixo/durabletask/internal/args"
	"github.com/itixo/durabletask/internal/sync"
	"github.com/itixo/durabletask/internal/workflowerrors"
)

type orchestration struct {
	cr     sync.Coroutine
	fn     reflect.Value
	result payload.Payload
	err    error
}

func newOrchestration(fn reflect.Value) *orchestration {
	return &orchestration{
		fn: fn,
	}
}

func (o *orchestration) Execute(ctx sync.Context, input payload.Payload) {
	o.cr = sync.NewCoroutine(ctx, func(ctx sync.Context) {
		fnArgs, addContext, err := args.InputToArgs(converter.DefaultConverter, o.fn, input)
		if err != nil {
			o.err = workflowerrors.NewPermanentError(fmt.Errorf("converting orchestration input: %w", err))
			return
		}

		if !addContext {
			o.err = errors.New("orchestration must accept context as first argument")
			return
		}

		fnArgs[0] = reflect.ValueOf(ctx)

		// Handle panics in orchestrations
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok && errors.Is(err, sync.ErrCoroutineAlreadyFinished) {
					panic(r)
				}

				o.err = workflowerrors.NewPanicError(fmt.Sprintf("panic in orchestration: %v", r))
			}
		}()

		result, fnErr, err := args.ResultToPayload(converter.DefaultConverter, o.fn.Call(fnArgs))
		if err != nil {
			o.err = err
			return
		}

		o.result = result
		o.err = fnErr
	})

	o.cr.Execute()
}

func (o *orchestration) Continue() {
	if o.cr != nil {
		o.cr.Execute()
	}
}

func (o *orchestration) Started() bool {
	return o.cr != nil
}

func (o *orchestration) Completed() bool {
	return o.cr != nil && o.cr.Finished()
}

// Result returns the return value of a finished orchestration as a payload
func (o *orchestration) Result() payload.Payload {
	return o.result
}

// Error returns the error of a finished orchestration, can be nil
func (o *orchestration) Error() error {
	return o.err
}

func (o *orchestration) Close() {
	// End coroutine execution to prevent goroutine leaks
	if o.cr != nil {
		o.cr.Exit()
	}
}
