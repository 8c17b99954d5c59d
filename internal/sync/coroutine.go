package sync

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

const DeadlockDetection = 40 * time.Second

var ErrCoroutineAlreadyFinished = errors.New("coroutine already finished")

// Coroutine runs a function on its own goroutine, but only ever lets either the caller or the function make
// progress. The function hands control back by yielding; the caller hands it over by calling Execute.
type Coroutine interface {
	// Execute continues execution of a blocked coroutine and waits until
	// it is finished or blocked again
	Execute()

	// Yield yields execution and stops coroutine execution
	Yield()

	// Exit prevents a _blocked_ Coroutine from continuing
	Exit()

	Blocked() bool
	Finished() bool
	Progress() bool

	// Panic returns the value the coroutine function panicked with, or nil
	Panic() any
}

type key int

var coroutinesCtxKey key

type coState struct {
	blocking   chan bool    // coroutine is going to be blocked
	unblock    chan bool    // channel to unblock block coroutine
	blocked    atomic.Value // coroutine is currently blocked
	finished   atomic.Value // coroutine finished executing
	shouldExit atomic.Value // coroutine should exit
	progress   atomic.Value // did the coroutine make progress since last yield?

	panicValue any

	deadlockDetection time.Duration
}

func NewCoroutine(ctx Context, fn func(ctx Context)) Coroutine {
	s := newState()
	ctx = withCoState(ctx, s)

	go func() {
		defer s.finish() // Ensure we always mark the coroutine as finished
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok && errors.Is(err, ErrCoroutineAlreadyFinished) {
					// Ignore this specific error
					return
				}

				s.panicValue = r
			}
		}()

		// yield before the first execution
		s.yield(false)

		fn(ctx)
	}()

	return s
}

func newState() *coState {
	c := &coState{
		blocking:          make(chan bool, 1),
		unblock:           make(chan bool),
		deadlockDetection: DeadlockDetection,
	}

	// Start out as blocked
	c.blocked.Store(true)

	return c
}

func (s *coState) finish() {
	s.finished.Store(true)
	s.blocking <- true
}

func (s *coState) Finished() bool {
	v, ok := s.finished.Load().(bool)
	return ok && v
}

func (s *coState) Blocked() bool {
	v, ok := s.blocked.Load().(bool)
	return ok && v
}

func (s *coState) MadeProgress() {
	s.progress.Store(true)
}

func (s *coState) ResetProgress() {
	s.progress.Store(false)
}

func (s *coState) Progress() bool {
	v, ok := s.progress.Load().(bool)
	return ok && v
}

func (s *coState) Panic() any {
	return s.panicValue
}

func (s *coState) Yield() {
	s.yield(true)
}

func (s *coState) yield(markBlocking bool) {
	if markBlocking {
		if s.shouldExit.Load() != nil {
			panic(ErrCoroutineAlreadyFinished)
		}

		s.blocked.Store(true)

		s.blocking <- true
	}

	// Wait for the next Execute() call
	<-s.unblock

	// Once we're here, another Execute() call has been made. s.blocking is empty

	if s.shouldExit.Load() != nil {
		// Goexit runs all deferred functions, which includes calling finish() in the main
		// execution function. That marks the coroutine as finished and blocking.
		runtime.Goexit()
	}

	s.blocked.Store(false)
}

func (s *coState) Execute() {
	s.ResetProgress()

	if s.Finished() {
		return
	}

	t := time.NewTimer(s.deadlockDetection)
	defer t.Stop()

	s.unblock <- true

	// Run until blocked (which is also true when finished)
	select {
	case <-s.blocking:
	case <-t.C:
		panic(fmt.Sprintf("coroutine did not yield within %v", s.deadlockDetection))
	}
}

func (s *coState) Exit() {
	if s.Finished() {
		return
	}

	s.shouldExit.Store(true)
	s.Execute()
}

func withCoState(ctx Context, s *coState) Context {
	return WithValue(ctx, coroutinesCtxKey, s)
}

func getCoState(ctx Context) *coState {
	s, ok := ctx.Value(coroutinesCtxKey).(*coState)
	if !ok {
		panic("could not find coroutine state")
	}

	return s
}
