package steps

import (
	"context"
	"fmt"

	"github.com/kilnworks/imagekiln/internal/future"
	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
	"github.com/kilnworks/imagekiln/internal/progress"
	"github.com/kilnworks/imagekiln/internal/registry"
)

// scheduleLayerPushes pairs each pending layer with the push authorization
// and schedules one upload per pair. No upload is dispatched before both its
// layer and the authorization have resolved, and no goroutine sits blocked
// waiting for them.
func (r *Runner) scheduleLayerPushes(
	ctx context.Context,
	layers []*future.Future[image.Layer],
	auth *future.Future[registry.Authorization],
	pp progress.Producer,
) []*future.Future[image.Descriptor] {
	node := pp("preparing layer pushers", int64(len(layers)))
	defer node.Close()
	child := node.ChildProducer()

	pushes := make([]*future.Future[image.Descriptor], 0, len(layers))
	for i, layerFuture := range layers {
		kind := fmt.Sprintf("push layer %d", i)
		pushes = append(pushes, future.AfterBoth(r.exec, layerFuture, auth,
			func(layer image.Layer, a registry.Authorization) (image.Descriptor, error) {
				desc, err := r.factory.PushLayer(ctx, a, layer, child)
				return desc, kilnerr.InStep(kind, err)
			}))
	}
	return pushes
}
