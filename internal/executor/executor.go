// Package executor provides the two execution contexts a build can run
// under: a bounded worker pool for concurrent builds and a direct executor
// that runs every unit of work synchronously for deterministic, serialized
// builds. The variant is chosen once at runner construction and threaded
// through explicitly; there is no process-wide mode switch.
package executor

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/kilnworks/imagekiln/internal/future"
)

// Pool is a bounded concurrent executor. Submit never blocks the caller:
// each unit of work gets its own goroutine gated by a weighted semaphore, so
// excess work queues on the semaphore rather than on the submitter.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool running at most workers units of work concurrently.
// A non-positive workers defaults to GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Submit queues fn for execution on an arbitrary pool slot.
func (p *Pool) Submit(fn func()) {
	go func() {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn()
	}()
}

// Direct runs each unit of work synchronously on the calling goroutine, so
// submission returns only after the work is finished. This forces the whole
// step graph into a deterministic single-goroutine execution order.
type Direct struct{}

// Submit runs fn immediately.
func (Direct) Submit(fn func()) {
	fn()
}

// MinBuildWorkers is the smallest pool that guarantees forward progress for
// a full build: a consumer step holds its pool slot while awaiting producer
// slots, so capacity must exceed the deepest chain of simultaneously blocked
// steps.
const MinBuildWorkers = 8

// PoolForBuild sizes a pool for running a step graph. A non-positive workers
// picks a CPU-proportional default; explicit values are raised to
// MinBuildWorkers.
func PoolForBuild(workers int) *Pool {
	if workers <= 0 {
		workers = 4 * runtime.GOMAXPROCS(0)
	}
	if workers < MinBuildWorkers {
		workers = MinBuildWorkers
	}
	return NewPool(workers)
}

// New selects the execution context for one build.
func New(serialized bool, workers int) future.Executor {
	if serialized {
		return Direct{}
	}
	return PoolForBuild(workers)
}
