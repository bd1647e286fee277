package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextCarriesBuildFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithBuildID(ctx, "b-123")
	ctx = WithMode(ctx, "registry-push")
	ctx = WithStep(ctx, "push manifests")

	lc := GetContext(ctx)
	assert.Equal(t, "b-123", lc.BuildID)
	assert.Equal(t, "registry-push", lc.Mode)
	assert.Equal(t, "push manifests", lc.Step)
}

func TestContextFieldsAccumulate(t *testing.T) {
	ctx := WithBuildID(context.Background(), "b-1")
	ctx2 := WithStep(ctx, "build image")

	// The parent context is untouched.
	assert.Empty(t, GetContext(ctx).Step)
	assert.Equal(t, "b-1", GetContext(ctx2).BuildID)
}

func TestEmptyContext(t *testing.T) {
	assert.Equal(t, LogContext{}, GetContext(context.Background()))
}
