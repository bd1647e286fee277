package steps

import (
	"context"

	"github.com/kilnworks/imagekiln/internal/daemon"
	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/progress"
	"github.com/kilnworks/imagekiln/internal/registry"
)

// Factory produces the units of work behind each step. The runner treats
// every method as opaque: it knows only the step's declared inputs and its
// success or failure. Implementations receive a progress producer so they
// can fan out children under the step's progress node.
type Factory interface {
	// PullBaseImage resolves the base image descriptor and an
	// authorization for fetching its layers.
	PullBaseImage(ctx context.Context, pp progress.Producer) (ImageAndAuth, error)

	// BaseLayerWork returns one deferred pull-and-cache unit per base
	// image layer.
	BaseLayerWork(base ImageAndAuth, pp progress.Producer) []LayerWork

	// AppLayerWork returns one deferred build-and-cache unit per
	// configured application layer.
	AppLayerWork(pp progress.Producer) []LayerWork

	// BuildImage assembles the final image from the base image and the
	// cached layers.
	BuildImage(ctx context.Context, base ImageAndAuth, baseLayers, appLayers []image.Layer, pp progress.Producer) (*image.Image, error)

	// FetchCredentials retrieves the target registry credential.
	FetchCredentials(ctx context.Context, pp progress.Producer) (registry.Credential, error)

	// AuthenticatePush exchanges the credential for a push authorization.
	AuthenticatePush(ctx context.Context, cred registry.Credential, pp progress.Producer) (registry.Authorization, error)

	// PushLayer uploads one cached layer blob.
	PushLayer(ctx context.Context, auth registry.Authorization, layer image.Layer, pp progress.Producer) (image.Descriptor, error)

	// PushConfig uploads the container configuration blob.
	PushConfig(ctx context.Context, auth registry.Authorization, img *image.Image, pp progress.Producer) (image.Descriptor, error)

	// ManifestPushWork returns one deferred manifest push per target tag.
	// Every push reports an equivalent BuildResult.
	ManifestPushWork(auth registry.Authorization, configDesc image.Descriptor, img *image.Image, pp progress.Producer) []ManifestWork

	// LoadDaemon streams the built image into the local daemon client.
	LoadDaemon(ctx context.Context, client daemon.Client, img *image.Image, pp progress.Producer) (*BuildResult, error)

	// WriteTar writes the built image as a tar archive at outputPath.
	WriteTar(ctx context.Context, outputPath string, img *image.Image, pp progress.Producer) (*BuildResult, error)
}
