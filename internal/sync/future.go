package sync

import (
	"errors"
	"fmt"
)

// Future is the result of an operation that completes outside of the coroutine that waits on it.
type Future[T any] interface {
	// Get blocks the calling coroutine until the future is settled and returns its value and error
	Get(ctx Context) (T, error)

	// Ready returns true if the future has been settled
	Ready() bool
}

// SettableFuture can be settled exactly once.
type SettableFuture[T any] interface {
	Future[T]

	// Set settles the future. Setting a settled future returns an error.
	Set(v T, err error) error
}

type future[T any] struct {
	hasValue bool
	v        T
	err      error
}

func NewFuture[T any]() SettableFuture[T] {
	return &future[T]{}
}

func (f *future[T]) Set(v T, err error) error {
	if f.hasValue {
		return errors.New("future already set")
	}

	f.v = v
	f.err = err
	f.hasValue = true

	return nil
}

func (f *future[T]) Get(ctx Context) (T, error) {
	cr := getCoState(ctx)

	for {
		if f.hasValue {
			cr.MadeProgress()
			return f.v, f.err
		}

		cr.Yield()
	}
}

func (f *future[T]) Ready() bool {
	return f.hasValue
}

func (f *future[T]) String() string {
	if !f.hasValue {
		return "future(pending)"
	}

	return fmt.Sprintf("future(%v, %v)", f.v, f.err)
}

// Yield hands control back to whoever executes the coroutine bound to ctx.
func Yield(ctx Context) {
	getCoState(ctx).Yield()
}
