package steps

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kilnworks/imagekiln/internal/daemon"
	"github.com/kilnworks/imagekiln/internal/executor"
	"github.com/kilnworks/imagekiln/internal/future"
	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
	"github.com/kilnworks/imagekiln/internal/observability"
	"github.com/kilnworks/imagekiln/internal/progress"
	"github.com/kilnworks/imagekiln/internal/registry"
)

// Mode is the selected build destination. Exactly one mode is selected per
// runner; the mode fixes the launcher list and the progress budget.
type Mode int

const (
	ModeUnset Mode = iota
	ModeDaemonLoad
	ModeTarBuild
	ModeRegistryPush
)

// String returns the mode's name.
func (m Mode) String() string {
	switch m {
	case ModeDaemonLoad:
		return "daemon-load"
	case ModeTarBuild:
		return "tar-build"
	case ModeRegistryPush:
		return "registry-push"
	default:
		return "unset"
	}
}

// launcher is one registered deferred step action. Registration order is the
// declared dependency order; the order results become available is governed
// purely by each step awaiting its declared input slots.
type launcher struct {
	kind   Kind
	launch func(ctx context.Context, pp progress.Producer)
}

// Runner executes the step graph for one build. A Runner is single-use:
// select exactly one mode, then call Run once.
type Runner struct {
	factory Factory
	exec    future.Executor
	sink    progress.Sink
	buildID string

	mode        Mode
	description string
	launchers   []launcher
	slots       *slots
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor overrides the execution context.
func WithExecutor(exec future.Executor) Option {
	return func(r *Runner) { r.exec = exec }
}

// WithProgressSink sets the sink progress events are published to.
func WithProgressSink(sink progress.Sink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithBuildID overrides the generated build ID.
func WithBuildID(id string) Option {
	return func(r *Runner) { r.buildID = id }
}

// NewRunner creates a runner over the given step factory. The default
// execution context is a build-sized worker pool.
func NewRunner(factory Factory, opts ...Option) *Runner {
	r := &Runner{
		factory: factory,
		exec:    executor.PoolForBuild(0),
		sink:    progress.NopSink{},
		buildID: uuid.NewString(),
		slots:   newSlots(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) selectMode(mode Mode, description string) error {
	if r.mode != ModeUnset {
		return kilnerr.Newf(kilnerr.CategoryConfig, "build mode already selected (%s); a runner is single-use", r.mode)
	}
	r.mode = mode
	r.description = description
	return nil
}

func (r *Runner) add(kind Kind, launch func(ctx context.Context, pp progress.Producer)) {
	r.launchers = append(r.launchers, launcher{kind: kind, launch: launch})
}

func (r *Runner) addCommonSteps() {
	r.add(KindPullBaseImage, r.pullBaseImage)
	r.add(KindPullBaseLayers, r.pullAndCacheBaseLayers)
	r.add(KindBuildAppLayers, r.buildAndCacheAppLayers)
	r.add(KindBuildImage, r.buildImage)
}

// DaemonLoadSteps configures the runner to build the image and load it into
// the given local daemon.
func (r *Runner) DaemonLoadSteps(client daemon.Client) error {
	if err := r.selectMode(ModeDaemonLoad, "building image to local daemon"); err != nil {
		return err
	}
	r.addCommonSteps()
	r.add(KindLoadDaemon, func(ctx context.Context, pp progress.Producer) {
		r.loadDaemon(ctx, pp, client)
	})
	return nil
}

// TarBuildSteps configures the runner to build the image and write it as a
// tar archive at outputPath.
func (r *Runner) TarBuildSteps(outputPath string) error {
	if err := r.selectMode(ModeTarBuild, "building image to tar file"); err != nil {
		return err
	}
	r.addCommonSteps()
	r.add(KindWriteTar, func(ctx context.Context, pp progress.Producer) {
		r.writeTar(ctx, pp, outputPath)
	})
	return nil
}

// RegistryPushSteps configures the runner to build the image and push it to
// the target registry.
func (r *Runner) RegistryPushSteps() error {
	if err := r.selectMode(ModeRegistryPush, "building image to registry"); err != nil {
		return err
	}
	r.addCommonSteps()
	r.add(KindFetchCredentials, r.fetchCredentials)
	r.add(KindAuthenticatePush, r.authenticatePush)
	r.add(KindPushBaseLayers, r.pushBaseLayers)
	r.add(KindPushAppLayers, r.pushAppLayers)
	r.add(KindPushConfig, r.pushConfig)
	r.add(KindPushManifests, r.pushManifests)
	return nil
}

// validate checks, before any work is dispatched, that every launcher's
// declared inputs are produced by an earlier-registered launcher. A
// violation is a programmer error in the mode's step list.
func (r *Runner) validate() error {
	registered := make(map[Kind]bool, len(r.launchers))
	for _, l := range r.launchers {
		for _, dep := range stepInputs[l.kind] {
			if !registered[dep] {
				return kilnerr.Newf(kilnerr.CategoryConfig,
					"step %q reads the result of %q, which is not registered before it in %s mode",
					l.kind, dep, r.mode)
			}
		}
		registered[l.kind] = true
	}
	return nil
}

// StepCount returns the number of registered launchers; it equals the
// progress root's unit budget.
func (r *Runner) StepCount() int {
	return len(r.launchers)
}

// Run invokes every registered launcher in registration order, then blocks
// until the terminal step's result resolves. On failure the nested
// step-failure chain is unwrapped to its root cause, except for an
// interruption of the calling context, which is reported as such.
func (r *Runner) Run(ctx context.Context) (*BuildResult, error) {
	if r.mode == ModeUnset {
		return nil, kilnerr.New(kilnerr.CategoryConfig, "no build mode selected")
	}
	if err := r.validate(); err != nil {
		return nil, err
	}

	ctx = observability.WithBuildID(ctx, r.buildID)
	ctx = observability.WithMode(ctx, r.mode.String())

	root := progress.NewRoot(r.sink, r.description, int64(len(r.launchers)))
	defer root.Close()
	pp := root.ChildProducer()

	observability.InfoContext(ctx, "Executing build steps",
		slog.Int("steps", len(r.launchers)), slog.String("description", r.description))

	for _, l := range r.launchers {
		l.launch(observability.WithStep(ctx, l.kind.String()), pp)
	}

	result, err := r.slots.result.Get(ctx)
	if err != nil {
		if kilnerr.IsInterrupted(err) {
			return nil, err
		}
		cause := kilnerr.RootCause(err)
		observability.ErrorContext(ctx, "Build failed", slog.Any("error", cause))
		return nil, cause
	}

	observability.InfoContext(ctx, "Build completed",
		slog.String("digest", string(result.ImageDigest)), slog.String("destination", result.Destination))
	return result, nil
}

func (r *Runner) pullBaseImage(ctx context.Context, pp progress.Producer) {
	r.slots.baseImageAndAuth = future.Submit(r.exec, func() (ImageAndAuth, error) {
		v, err := r.factory.PullBaseImage(ctx, pp)
		return v, kilnerr.InStep(KindPullBaseImage.String(), err)
	})
}

func (r *Runner) pullAndCacheBaseLayers(ctx context.Context, pp progress.Producer) {
	base := r.slots.baseImageAndAuth
	r.slots.baseLayers = future.Submit(r.exec, func() ([]*future.Future[image.Layer], error) {
		v, err := base.Get(ctx)
		if err != nil {
			return nil, kilnerr.InStep(KindPullBaseLayers.String(), err)
		}
		return r.scheduleLayerWork(ctx, r.factory.BaseLayerWork(v, pp)), nil
	})
}

func (r *Runner) buildAndCacheAppLayers(ctx context.Context, pp progress.Producer) {
	// Application layers depend on nothing, so they are scheduled on the
	// calling goroutine and the slot resolves immediately to the list of
	// pending layer futures.
	r.slots.appLayers = future.Resolved(r.scheduleLayerWork(ctx, r.factory.AppLayerWork(pp)))
}

func (r *Runner) scheduleLayerWork(ctx context.Context, work []LayerWork) []*future.Future[image.Layer] {
	futures := make([]*future.Future[image.Layer], 0, len(work))
	for _, w := range work {
		futures = append(futures, future.Submit(r.exec, func() (image.Layer, error) {
			return w(ctx)
		}))
	}
	return futures
}

func (r *Runner) buildImage(ctx context.Context, pp progress.Producer) {
	base := r.slots.baseImageAndAuth
	baseLayers := r.slots.baseLayers
	appLayers := r.slots.appLayers
	r.slots.builtImage = future.Submit(r.exec, func() (*image.Image, error) {
		img, err := func() (*image.Image, error) {
			b, err := base.Get(ctx)
			if err != nil {
				return nil, err
			}
			pendingBase, err := baseLayers.Get(ctx)
			if err != nil {
				return nil, err
			}
			cachedBase, err := future.Realize(ctx, pendingBase)
			if err != nil {
				return nil, err
			}
			pendingApp, err := appLayers.Get(ctx)
			if err != nil {
				return nil, err
			}
			cachedApp, err := future.Realize(ctx, pendingApp)
			if err != nil {
				return nil, err
			}
			return r.factory.BuildImage(ctx, b, cachedBase, cachedApp, pp)
		}()
		return img, kilnerr.InStep(KindBuildImage.String(), err)
	})
}

func (r *Runner) fetchCredentials(ctx context.Context, pp progress.Producer) {
	r.slots.credentials = future.Submit(r.exec, func() (registry.Credential, error) {
		v, err := r.factory.FetchCredentials(ctx, pp)
		return v, kilnerr.InStep(KindFetchCredentials.String(), err)
	})
}

func (r *Runner) authenticatePush(ctx context.Context, pp progress.Producer) {
	creds := r.slots.credentials
	r.slots.pushAuth = future.Submit(r.exec, func() (registry.Authorization, error) {
		auth, err := func() (registry.Authorization, error) {
			c, err := creds.Get(ctx)
			if err != nil {
				return registry.Authorization{}, err
			}
			return r.factory.AuthenticatePush(ctx, c, pp)
		}()
		return auth, kilnerr.InStep(KindAuthenticatePush.String(), err)
	})
}

func (r *Runner) pushBaseLayers(ctx context.Context, pp progress.Producer) {
	baseLayers := r.slots.baseLayers
	auth := r.slots.pushAuth
	r.slots.baseLayerPushes = future.Submit(r.exec, func() ([]*future.Future[image.Descriptor], error) {
		pending, err := baseLayers.Get(ctx)
		if err != nil {
			return nil, kilnerr.InStep(KindPushBaseLayers.String(), err)
		}
		return r.scheduleLayerPushes(ctx, pending, auth, pp), nil
	})
}

func (r *Runner) pushAppLayers(ctx context.Context, pp progress.Producer) {
	auth := r.slots.pushAuth
	pending, err := r.slots.appLayers.Get(ctx)
	if err != nil {
		r.slots.appLayerPushes = future.Failed[[]*future.Future[image.Descriptor]](
			kilnerr.InStep(KindPushAppLayers.String(), err))
		return
	}
	r.slots.appLayerPushes = future.Resolved(r.scheduleLayerPushes(ctx, pending, auth, pp))
}

func (r *Runner) pushConfig(ctx context.Context, pp progress.Producer) {
	auth := r.slots.pushAuth
	img := r.slots.builtImage
	r.slots.configPush = future.Submit(r.exec, func() (image.Descriptor, error) {
		desc, err := func() (image.Descriptor, error) {
			a, err := auth.Get(ctx)
			if err != nil {
				return image.Descriptor{}, err
			}
			im, err := img.Get(ctx)
			if err != nil {
				return image.Descriptor{}, err
			}
			return r.factory.PushConfig(ctx, a, im, pp)
		}()
		return desc, kilnerr.InStep(KindPushConfig.String(), err)
	})
}

func (r *Runner) pushManifests(ctx context.Context, pp progress.Producer) {
	basePushes := r.slots.baseLayerPushes
	appPushes := r.slots.appLayerPushes
	auth := r.slots.pushAuth
	configPush := r.slots.configPush
	img := r.slots.builtImage
	r.slots.result = future.Submit(r.exec, func() (*BuildResult, error) {
		res, err := func() (*BuildResult, error) {
			pendingBase, err := basePushes.Get(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := future.Realize(ctx, pendingBase); err != nil {
				return nil, err
			}
			pendingApp, err := appPushes.Get(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := future.Realize(ctx, pendingApp); err != nil {
				return nil, err
			}
			a, err := auth.Get(ctx)
			if err != nil {
				return nil, err
			}
			configDesc, err := configPush.Get(ctx)
			if err != nil {
				return nil, err
			}
			im, err := img.Get(ctx)
			if err != nil {
				return nil, err
			}

			work := r.factory.ManifestPushWork(a, configDesc, im, pp)
			if len(work) == 0 {
				return nil, kilnerr.New(kilnerr.CategoryInternal, "no manifest tags to push")
			}
			tagPushes := make([]*future.Future[*BuildResult], 0, len(work))
			for _, w := range work {
				tagPushes = append(tagPushes, future.Submit(r.exec, func() (*BuildResult, error) {
					return w(ctx)
				}))
			}
			if _, err := future.Realize(ctx, tagPushes); err != nil {
				return nil, err
			}
			// Every tag push reports an equivalent result.
			return tagPushes[0].Get(ctx)
		}()
		return res, kilnerr.InStep(KindPushManifests.String(), err)
	})
}

func (r *Runner) loadDaemon(ctx context.Context, pp progress.Producer, client daemon.Client) {
	img := r.slots.builtImage
	r.slots.result = future.Submit(r.exec, func() (*BuildResult, error) {
		res, err := func() (*BuildResult, error) {
			im, err := img.Get(ctx)
			if err != nil {
				return nil, err
			}
			return r.factory.LoadDaemon(ctx, client, im, pp)
		}()
		return res, kilnerr.InStep(KindLoadDaemon.String(), err)
	})
}

func (r *Runner) writeTar(ctx context.Context, pp progress.Producer, outputPath string) {
	img := r.slots.builtImage
	r.slots.result = future.Submit(r.exec, func() (*BuildResult, error) {
		res, err := func() (*BuildResult, error) {
			im, err := img.Get(ctx)
			if err != nil {
				return nil, err
			}
			return r.factory.WriteTar(ctx, outputPath, im, pp)
		}()
		return res, kilnerr.InStep(KindWriteTar.String(), err)
	})
}
