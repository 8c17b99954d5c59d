package workflow

import (
	"errors"

	"github.com/itixo/durabletask/internal/sync"
)

// Awaitable is implemented by every future of this package, independent of its result type.
type Awaitable interface {
	// Ready returns true once the result is available
	Ready() bool

	poll(ctx Context)
	error() error
}

type Future[T any] interface {
	Awaitable

	// Get returns the value if set, blocks otherwise
	Get(ctx Context) (T, error)
}

type settledFuture[T any] struct {
	v   T
	err error
}

func newSettledFuture[T any](v T, err error) Future[T] {
	return &settledFuture[T]{v, err}
}

func (f *settledFuture[T]) Get(Context) (T, error) {
	return f.v, f.err
}

func (f *settledFuture[T]) Ready() bool {
	return true
}

func (f *settledFuture[T]) poll(Context) {}

func (f *settledFuture[T]) error() error {
	return f.err
}

// WaitAll blocks until all given futures are ready. It returns the error of the first failed future in argument
// order, or nil.
func WaitAll(ctx Context, futures ...Awaitable) error {
	for {
		done := true
		for _, f := range futures {
			f.poll(ctx)
			if !f.Ready() {
				done = false
			}
		}

		if done {
			break
		}

		sync.Yield(ctx)
	}

	var errs []error
	for _, f := range futures {
		if err := f.error(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return errs[0]
}

// WaitAny blocks until at least one of the given futures is ready and returns its index. If more than one
// future is ready, the lowest index wins.
func WaitAny(ctx Context, futures ...Awaitable) int {
	if len(futures) == 0 {
		panic(errors.New("WaitAny requires at least one future"))
	}

	for {
		for i, f := range futures {
			f.poll(ctx)
			if f.Ready() {
				return i
			}
		}

		sync.Yield(ctx)
	}
}
