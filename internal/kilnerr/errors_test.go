package kilnerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildErrorCategory(t *testing.T) {
	err := New(CategoryConfig, "no build mode selected")
	assert.Equal(t, CategoryConfig, GetCategory(err))
	assert.True(t, IsCategory(err, CategoryConfig))
	assert.False(t, IsCategory(err, CategoryAuth))

	wrapped := Wrap(err, CategoryStep, "run failed")
	assert.True(t, IsCategory(wrapped, CategoryStep))
	assert.ErrorIs(t, wrapped, err)
}

func TestGetCategoryDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CategoryInternal, GetCategory(errors.New("plain")))
}

func TestRootCauseStripsNestedStepErrors(t *testing.T) {
	cause := errors.New("connection reset")

	// Build a chain of N wrappers around the cause; the reported root cause
	// must be the same regardless of N.
	for n := 0; n < 8; n++ {
		err := error(cause)
		for i := 0; i < n; i++ {
			err = InStep("push base image layers", err)
		}
		require.Equal(t, cause, RootCause(err), "depth %d", n)
	}
}

func TestRootCauseIdempotent(t *testing.T) {
	cause := errors.New("boom")
	once := RootCause(InStep("build image", InStep("pull base image", cause)))
	assert.Equal(t, cause, once)
	assert.Equal(t, once, RootCause(once))
}

func TestInStepNilStaysNil(t *testing.T) {
	assert.NoError(t, InStep("authenticate push", nil))
}

func TestNotConfigured(t *testing.T) {
	err := NotConfigured("push application layers")
	assert.True(t, IsNotConfigured(err))
	assert.Contains(t, err.Error(), "push application layers")

	// The wrapper chain must preserve detectability.
	assert.True(t, IsNotConfigured(InStep("push manifests", err)))
	assert.False(t, IsNotConfigured(errors.New("other")))
}

func TestInterrupted(t *testing.T) {
	err := Interrupted(context.Canceled)
	assert.True(t, IsInterrupted(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsInterrupted(errors.New("step failed")))
}
