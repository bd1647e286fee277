// Package future implements the write-once asynchronous result primitive the
// step runner schedules with. A Future is completed at most once, either with
// a value or with an error, and any number of goroutines may await it.
package future

import (
	"context"
	"sync"

	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// Executor accepts units of work for asynchronous execution. Submission must
// never block the caller; excess work queues.
type Executor interface {
	Submit(fn func())
}

// Future holds the eventual result of one unit of work.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// New returns an incomplete future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with value.
func Resolved[T any](value T) *Future[T] {
	f := New[T]()
	f.Complete(value, nil)
	return f
}

// Failed returns a future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Complete sets the result. Only the first call has any effect.
func (f *Future[T]) Complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future is complete.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// settled reports, without blocking, whether the future has completed.
func (f *Future[T]) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future completes or ctx is cancelled. Cancellation is
// reported as an interruption, distinct from a failure of the work itself.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, kilnerr.Interrupted(ctx.Err())
	}
}

// Submit runs fn on exec and returns a future for its result. A panic-free fn
// that returns an error completes the future with that error; nothing is ever
// thrown back at the submitter.
func Submit[T any](exec Executor, fn func() (T, error)) *Future[T] {
	f := New[T]()
	exec.Submit(func() {
		f.Complete(fn())
	})
	return f
}
