package steps

import (
	"github.com/kilnworks/imagekiln/internal/future"
	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
	"github.com/kilnworks/imagekiln/internal/registry"
)

// slots holds the individual step results. Every slot starts as a failed
// future carrying a not-configured error, so reading a slot whose producing
// step was never registered fails immediately instead of hanging. Each slot
// is overwritten exactly once, by its producing launcher, on the goroutine
// running the launcher list.
type slots struct {
	baseImageAndAuth *future.Future[ImageAndAuth]
	baseLayers       *future.Future[[]*future.Future[image.Layer]]
	appLayers        *future.Future[[]*future.Future[image.Layer]]
	builtImage       *future.Future[*image.Image]
	credentials      *future.Future[registry.Credential]
	pushAuth         *future.Future[registry.Authorization]
	baseLayerPushes  *future.Future[[]*future.Future[image.Descriptor]]
	appLayerPushes   *future.Future[[]*future.Future[image.Descriptor]]
	configPush       *future.Future[image.Descriptor]
	result           *future.Future[*BuildResult]
}

func newSlots() *slots {
	return &slots{
		baseImageAndAuth: future.Failed[ImageAndAuth](kilnerr.NotConfigured(KindPullBaseImage.String())),
		baseLayers:       future.Failed[[]*future.Future[image.Layer]](kilnerr.NotConfigured(KindPullBaseLayers.String())),
		appLayers:        future.Failed[[]*future.Future[image.Layer]](kilnerr.NotConfigured(KindBuildAppLayers.String())),
		builtImage:       future.Failed[*image.Image](kilnerr.NotConfigured(KindBuildImage.String())),
		credentials:      future.Failed[registry.Credential](kilnerr.NotConfigured(KindFetchCredentials.String())),
		pushAuth:         future.Failed[registry.Authorization](kilnerr.NotConfigured(KindAuthenticatePush.String())),
		baseLayerPushes:  future.Failed[[]*future.Future[image.Descriptor]](kilnerr.NotConfigured(KindPushBaseLayers.String())),
		appLayerPushes:   future.Failed[[]*future.Future[image.Descriptor]](kilnerr.NotConfigured(KindPushAppLayers.String())),
		configPush:       future.Failed[image.Descriptor](kilnerr.NotConfigured(KindPushConfig.String())),
		result:           future.Failed[*BuildResult](kilnerr.NotConfigured("terminal build step")),
	}
}
