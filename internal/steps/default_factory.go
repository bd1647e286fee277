package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kilnworks/imagekiln/internal/cache"
	"github.com/kilnworks/imagekiln/internal/config"
	"github.com/kilnworks/imagekiln/internal/daemon"
	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
	"github.com/kilnworks/imagekiln/internal/layer"
	"github.com/kilnworks/imagekiln/internal/progress"
	"github.com/kilnworks/imagekiln/internal/registry"
	"github.com/kilnworks/imagekiln/internal/retry"
	"github.com/kilnworks/imagekiln/internal/tarball"
)

// BuildFactory is the production Factory: it pulls through the registry
// client, persists layers in the blob cache, and builds application layers
// from the configured local sources.
type BuildFactory struct {
	cfg   *config.Config
	cache *cache.Cache
	creds *registry.CredentialStore

	baseRef   image.Reference
	targetRef image.Reference

	baseClient   *registry.Client
	targetClient *registry.Client

	retryPolicy retry.Policy
}

// NewBuildFactory wires a factory over the given configuration and an open
// layer cache.
func NewBuildFactory(cfg *config.Config, layerCache *cache.Cache) (*BuildFactory, error) {
	baseRef, err := image.ParseReference(cfg.BaseImage)
	if err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryConfig, "invalid base_image")
	}
	targetRef, err := image.ParseReference(cfg.TargetImage)
	if err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryConfig, "invalid target_image")
	}

	policy, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}

	f := &BuildFactory{
		cfg:         cfg,
		cache:       layerCache,
		creds:       registry.NewCredentialStore(cfg.Registry.CredentialFile),
		baseRef:     baseRef,
		targetRef:   targetRef,
		retryPolicy: policy,
	}
	if !baseRef.Scratch() {
		f.baseClient = registry.NewClient(baseRef.Registry, baseRef.Repository, cfg.Registry.Insecure)
	}
	f.targetClient = registry.NewClient(targetRef.Registry, targetRef.Repository, cfg.Registry.Insecure)
	return f, nil
}

// configBlob is the container configuration JSON exchanged with registries.
type configBlob struct {
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	Created      string `json:"created,omitempty"`
	Config       struct {
		Env        []string          `json:"Env,omitempty"`
		Entrypoint []string          `json:"Entrypoint,omitempty"`
		Cmd        []string          `json:"Cmd,omitempty"`
		Labels     map[string]string `json:"Labels,omitempty"`
	} `json:"config"`
	RootFS struct {
		Type    string   `json:"type"`
		DiffIDs []string `json:"diff_ids"`
	} `json:"rootfs"`
}

func marshalConfigBlob(img *image.Image) ([]byte, error) {
	var cfg configBlob
	cfg.Architecture = img.Architecture
	cfg.OS = img.OS
	if !img.Created.IsZero() {
		cfg.Created = img.Created.UTC().Format(time.RFC3339)
	}
	cfg.Config.Env = img.Env
	cfg.Config.Entrypoint = img.Entrypoint
	cfg.Config.Cmd = img.Cmd
	cfg.Config.Labels = img.Labels
	cfg.RootFS.Type = "layers"
	for _, l := range img.Layers {
		cfg.RootFS.DiffIDs = append(cfg.RootFS.DiffIDs, string(l.DiffID))
	}
	return json.Marshal(cfg)
}

// PullBaseImage resolves the base manifest and configuration. A scratch base
// needs no registry round trip.
func (f *BuildFactory) PullBaseImage(ctx context.Context, pp progress.Producer) (ImageAndAuth, error) {
	if f.baseRef.Scratch() {
		return ImageAndAuth{Image: &image.Image{
			Reference:    f.baseRef,
			Architecture: "amd64",
			OS:           "linux",
		}}, nil
	}

	node := pp("pulling base image manifest", 2)
	defer node.Close()

	cred, err := f.creds.Get(f.baseRef.Registry)
	if err != nil {
		return ImageAndAuth{}, err
	}
	auth, err := f.baseClient.Authenticate(ctx, cred, "pull")
	if err != nil {
		return ImageAndAuth{}, err
	}

	reference := f.baseRef.Tag
	if f.baseRef.Digest != "" {
		reference = string(f.baseRef.Digest)
	}
	manifest, err := f.baseClient.FetchManifest(ctx, auth, reference)
	if err != nil {
		return ImageAndAuth{}, err
	}
	node.Advance(1)

	rc, err := f.baseClient.FetchBlob(ctx, auth, manifest.Config.Digest)
	if err != nil {
		return ImageAndAuth{}, err
	}
	defer rc.Close()
	var blob configBlob
	if err := json.NewDecoder(rc).Decode(&blob); err != nil {
		return ImageAndAuth{}, kilnerr.Wrap(err, kilnerr.CategoryRegistry, "decode base image configuration")
	}
	node.Advance(1)

	if len(blob.RootFS.DiffIDs) != len(manifest.Layers) {
		return ImageAndAuth{}, kilnerr.Newf(kilnerr.CategoryRegistry,
			"base image manifest lists %d layers but its configuration lists %d diff IDs",
			len(manifest.Layers), len(blob.RootFS.DiffIDs))
	}

	img := &image.Image{
		Reference:    f.baseRef,
		Architecture: blob.Architecture,
		OS:           blob.OS,
		Env:          blob.Config.Env,
		Entrypoint:   blob.Config.Entrypoint,
		Cmd:          blob.Config.Cmd,
		Labels:       blob.Config.Labels,
	}
	for i, desc := range manifest.Layers {
		img.Layers = append(img.Layers, image.Layer{
			Name:       fmt.Sprintf("base layer %d", i),
			Descriptor: desc,
			DiffID:     image.Digest(blob.RootFS.DiffIDs[i]),
		})
	}
	return ImageAndAuth{Image: img, Auth: auth}, nil
}

// BaseLayerWork returns one pull-and-cache unit per base layer. A layer
// already present in the cache is served from it without a registry fetch.
func (f *BuildFactory) BaseLayerWork(base ImageAndAuth, pp progress.Producer) []LayerWork {
	work := make([]LayerWork, 0, len(base.Image.Layers))
	for _, l := range base.Image.Layers {
		work = append(work, func(ctx context.Context) (image.Layer, error) {
			node := pp("pulling "+l.Name, 1)
			defer node.Close()

			cached, ok, err := f.cache.Retrieve(l.Descriptor.Digest)
			if err != nil {
				return image.Layer{}, err
			}
			if ok {
				return cached, nil
			}

			rc, err := f.baseClient.FetchBlob(ctx, base.Auth, l.Descriptor.Digest)
			if err != nil {
				return image.Layer{}, err
			}
			defer rc.Close()
			return f.cache.WriteCompressed(l.Name, l.DiffID, rc)
		})
	}
	return work
}

// AppLayerWork returns one build-and-cache unit per configured layer source.
func (f *BuildFactory) AppLayerWork(pp progress.Producer) []LayerWork {
	work := make([]LayerWork, 0, len(f.cfg.Layers))
	for _, src := range f.cfg.Layers {
		work = append(work, func(ctx context.Context) (image.Layer, error) {
			node := pp("building layer "+src.Name, 1)
			defer node.Close()

			var buf bytes.Buffer
			if err := layer.Build(&buf, src.Paths); err != nil {
				return image.Layer{}, err
			}
			return f.cache.Write(src.Name, &buf)
		})
	}
	return work
}

// BuildImage assembles the target image: base layers first, application
// layers on top, container configuration from the build configuration
// overriding the base image's.
func (f *BuildFactory) BuildImage(ctx context.Context, base ImageAndAuth, baseLayers, appLayers []image.Layer, pp progress.Producer) (*image.Image, error) {
	node := pp("assembling image", 1)
	defer node.Close()

	img := &image.Image{
		Reference:    f.targetRef,
		Created:      time.Now().UTC(),
		Architecture: base.Image.Architecture,
		OS:           base.Image.OS,
		Layers:       append(append([]image.Layer{}, baseLayers...), appLayers...),
		Env:          append(append([]string{}, base.Image.Env...), f.cfg.Container.Env...),
		Entrypoint:   f.cfg.Container.Entrypoint,
		Cmd:          f.cfg.Container.Cmd,
		Labels:       f.cfg.Container.Labels,
	}
	if len(img.Entrypoint) == 0 {
		img.Entrypoint = base.Image.Entrypoint
	}
	if len(img.Cmd) == 0 {
		img.Cmd = base.Image.Cmd
	}
	return img, nil
}

// FetchCredentials resolves the target registry credential.
func (f *BuildFactory) FetchCredentials(ctx context.Context, pp progress.Producer) (registry.Credential, error) {
	node := pp("fetching target registry credentials", 1)
	defer node.Close()
	return f.creds.Get(f.targetRef.Registry)
}

// AuthenticatePush exchanges the credential for a push-scoped authorization.
func (f *BuildFactory) AuthenticatePush(ctx context.Context, cred registry.Credential, pp progress.Producer) (registry.Authorization, error) {
	node := pp("authenticating with target registry", 1)
	defer node.Close()
	return f.targetClient.Authenticate(ctx, cred, "pull,push")
}

// PushLayer uploads one cached layer blob to the target registry. Each
// attempt reopens the blob, so a retried upload restarts from the beginning.
func (f *BuildFactory) PushLayer(ctx context.Context, auth registry.Authorization, l image.Layer, pp progress.Producer) (image.Descriptor, error) {
	node := pp("pushing "+l.Name, 1)
	defer node.Close()

	var desc image.Descriptor
	err := retry.Do(ctx, f.retryPolicy, func() error {
		blob, err := f.cache.Blob(l.Descriptor.Digest)
		if err != nil {
			return err
		}
		defer blob.Close()
		desc, err = f.targetClient.PushBlob(ctx, auth, l.Descriptor, blob)
		return err
	})
	return desc, err
}

// PushConfig uploads the container configuration blob.
func (f *BuildFactory) PushConfig(ctx context.Context, auth registry.Authorization, img *image.Image, pp progress.Producer) (image.Descriptor, error) {
	node := pp("pushing container configuration", 1)
	defer node.Close()

	blob, err := marshalConfigBlob(img)
	if err != nil {
		return image.Descriptor{}, kilnerr.Wrap(err, kilnerr.CategoryInternal, "encode container configuration")
	}
	desc := image.Descriptor{
		MediaType: "application/vnd.oci.image.config.v1+json",
		Digest:    image.NewDigest(blob),
		Size:      int64(len(blob)),
	}
	err = retry.Do(ctx, f.retryPolicy, func() error {
		_, err := f.targetClient.PushBlob(ctx, auth, desc, bytes.NewReader(blob))
		return err
	})
	return desc, err
}

// ManifestPushWork returns one deferred manifest push per target tag.
func (f *BuildFactory) ManifestPushWork(auth registry.Authorization, configDesc image.Descriptor, img *image.Image, pp progress.Producer) []ManifestWork {
	manifest := registry.Manifest{
		SchemaVersion: 2,
		MediaType:     registry.MediaTypeManifest,
		Config:        configDesc,
	}
	for _, l := range img.Layers {
		manifest.Layers = append(manifest.Layers, l.Descriptor)
	}

	tags := f.cfg.Tags
	work := make([]ManifestWork, 0, len(tags))
	for _, tag := range tags {
		work = append(work, func(ctx context.Context) (*BuildResult, error) {
			node := pp("pushing manifest for tag "+tag, 1)
			defer node.Close()

			var digest image.Digest
			err := retry.Do(ctx, f.retryPolicy, func() error {
				var err error
				digest, err = f.targetClient.PushManifest(ctx, auth, tag, manifest)
				return err
			})
			if err != nil {
				return nil, err
			}
			return &BuildResult{
				ImageDigest: digest,
				ImageID:     img.ID(),
				Tags:        tags,
				Destination: f.targetRef.String(),
			}, nil
		})
	}
	return work
}

// LoadDaemon streams the built image into the local daemon.
func (f *BuildFactory) LoadDaemon(ctx context.Context, client daemon.Client, img *image.Image, pp progress.Producer) (*BuildResult, error) {
	node := pp("loading image into local daemon", 1)
	defer node.Close()

	tags, err := f.tagStrings()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarball.Write(pw, img, tags, f.cache.Blob))
	}()
	loaded, err := client.Load(ctx, pr)
	pr.CloseWithError(err)
	if err != nil {
		return nil, err
	}
	return &BuildResult{
		ImageDigest: img.ID(),
		ImageID:     img.ID(),
		Tags:        f.cfg.Tags,
		Destination: loaded,
	}, nil
}

// WriteTar writes the built image as a docker-load compatible archive.
func (f *BuildFactory) WriteTar(ctx context.Context, outputPath string, img *image.Image, pp progress.Producer) (*BuildResult, error) {
	node := pp("writing image tar archive", 1)
	defer node.Close()

	tags, err := f.tagStrings()
	if err != nil {
		return nil, err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "create "+outputPath)
	}
	if err := tarball.Write(out, img, tags, f.cache.Blob); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "close "+outputPath)
	}
	return &BuildResult{
		ImageDigest: img.ID(),
		ImageID:     img.ID(),
		Tags:        f.cfg.Tags,
		Destination: outputPath,
	}, nil
}

func (f *BuildFactory) tagStrings() ([]string, error) {
	refs, err := f.cfg.TargetTags()
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(refs))
	for _, r := range refs {
		tags = append(tags, r.String())
	}
	return tags, nil
}
