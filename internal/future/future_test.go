package future

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// inline runs submitted work synchronously, like the serialized executor.
type inline struct{}

func (inline) Submit(fn func()) { fn() }

// spawning runs each unit of work on its own goroutine.
type spawning struct{ submitted atomic.Int64 }

func (s *spawning) Submit(fn func()) {
	s.submitted.Add(1)
	go fn()
}

func TestResolvedAndFailed(t *testing.T) {
	ctx := context.Background()

	v, err := Resolved(42).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Failed[int](boom).Get(ctx)
	assert.Equal(t, boom, err)
}

func TestCompleteIsWriteOnce(t *testing.T) {
	f := New[string]()
	f.Complete("first", nil)
	f.Complete("second", errors.New("ignored"))

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestGetReportsInterruption(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx)
	assert.True(t, kilnerr.IsInterrupted(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubmitCapturesFailure(t *testing.T) {
	boom := errors.New("boom")
	f := Submit(inline{}, func() (int, error) { return 0, boom })

	_, err := f.Get(context.Background())
	assert.Equal(t, boom, err)
}

func TestRealizeOrdering(t *testing.T) {
	// f2 resolves before f1; the returned values must still be in
	// registration order.
	f1, f2, f3 := New[int](), New[int](), New[int]()
	f2.Complete(2, nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		f1.Complete(1, nil)
		f3.Complete(3, nil)
	}()

	values, err := Realize(context.Background(), []*Future[int]{f1, f2, f3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, values)
}

func TestRealizeFirstFailureAbandonsRest(t *testing.T) {
	boom := errors.New("f2 failed")
	f1 := Resolved(1)
	f2 := Failed[int](boom)
	f3 := New[int]() // never completes; must not be awaited

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = Realize(context.Background(), []*Future[int]{f1, f2, f3})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Realize blocked on an abandoned future")
	}
	assert.Equal(t, boom, err)
}

func TestAfterBothWaitsForBothInputs(t *testing.T) {
	exec := &spawning{}
	fa, fb := New[int](), New[string]()

	out := AfterBoth(exec, fa, fb, func(a int, b string) (string, error) {
		return b, nil
	})

	fa.Complete(1, nil)
	// Only one input ready: nothing may be submitted yet.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, exec.submitted.Load())

	fb.Complete("ok", nil)
	v, err := out.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int64(1), exec.submitted.Load())
}

func TestAfterBothFailsFastWithoutSubmitting(t *testing.T) {
	exec := &spawning{}
	fa, fb := New[int](), New[string]()

	called := atomic.Bool{}
	out := AfterBoth(exec, fa, fb, func(int, string) (string, error) {
		called.Store(true)
		return "", nil
	})

	boom := errors.New("auth failed")
	fb.Complete("", boom)
	// fa never completes; the combinator must still fail promptly.

	_, err := out.Get(context.Background())
	assert.Equal(t, boom, err)
	assert.False(t, called.Load())
	assert.Zero(t, exec.submitted.Load())
}
