// Package steps contains the step-graph runner that drives a build: it
// registers the launcher list for the selected build mode, executes the
// launchers in dependency order over an execution context, and resolves the
// terminal result. Collaborator packages do the actual image work; the
// runner only sequences them.
package steps

import (
	"context"

	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/registry"
)

// ImageAndAuth pairs a resolved base image with the authorization that
// fetched it, so layer pulls can reuse the token.
type ImageAndAuth struct {
	Image *image.Image
	Auth  registry.Authorization
}

// BuildResult is the terminal outcome of a successful build.
type BuildResult struct {
	ImageDigest image.Digest
	ImageID     image.Digest
	Tags        []string
	Destination string
}

// LayerWork is one deferred layer pull or build; the collaborator produces a
// list of these and the runner schedules them.
type LayerWork func(ctx context.Context) (image.Layer, error)

// ManifestWork is one deferred per-tag manifest push.
type ManifestWork func(ctx context.Context) (*BuildResult, error)
