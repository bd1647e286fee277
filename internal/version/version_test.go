package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMetadataDefaults(t *testing.T) {
	// Unless overridden via ldflags, all fields report "unknown".
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, BuildTime)
	assert.NotEmpty(t, GitCommit)
}
