package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	const jobs = 20

	p := NewPool(workers)

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		p.Submit(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(workers))
}

func TestPoolSubmitDoesNotBlock(t *testing.T) {
	p := NewPool(1)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	p.Submit(func() { defer wg.Done(); <-release })

	// The pool is saturated; a second submission must still return promptly.
	done := make(chan struct{})
	go func() {
		p.Submit(func() { defer wg.Done(); <-release })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a saturated pool")
	}

	close(release)
	wg.Wait()
}

func TestDirectRunsSynchronously(t *testing.T) {
	var order []int
	Direct{}.Submit(func() { order = append(order, 1) })
	order = append(order, 2)

	assert.Equal(t, []int{1, 2}, order)
}

func TestNewSelectsVariant(t *testing.T) {
	assert.IsType(t, Direct{}, New(true, 4))
	assert.IsType(t, &Pool{}, New(false, 4))
}

func TestPoolForBuildEnforcesFloor(t *testing.T) {
	// A pool smaller than the deepest blocked chain could stall a build;
	// PoolForBuild must never produce one.
	p := PoolForBuild(1)

	var wg sync.WaitGroup
	release := make(chan struct{})
	started := make(chan struct{}, MinBuildWorkers)
	wg.Add(MinBuildWorkers)
	for i := 0; i < MinBuildWorkers; i++ {
		p.Submit(func() {
			defer wg.Done()
			started <- struct{}{}
			<-release
		})
	}

	for i := 0; i < MinBuildWorkers; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d units of work started concurrently", i, MinBuildWorkers)
		}
	}
	close(release)
	wg.Wait()
}
