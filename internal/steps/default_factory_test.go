package steps

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/imagekiln/internal/cache"
	"github.com/kilnworks/imagekiln/internal/config"
	"github.com/kilnworks/imagekiln/internal/executor"
)

// TestScratchTarBuild drives a full tar-archive build through the production
// factory: scratch base, one application layer from local files, real layer
// cache, real archive writer.
func TestScratchTarBuild(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "server"), []byte("#!/bin/sh\n"), 0o755))

	cfg := &config.Config{
		BaseImage:   "scratch",
		TargetImage: "registry.example.com/team/app",
		Tags:        []string{"v1"},
		Layers:      []config.LayerSource{{Name: "app", Paths: []string{appDir}}},
	}
	cfg.Container.Entrypoint = []string{"/dist/server"}
	require.NoError(t, cfg.Validate())

	layerCache, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	defer layerCache.Close()

	factory, err := NewBuildFactory(cfg, layerCache)
	require.NoError(t, err)

	outputPath := filepath.Join(dir, "out.tar")
	r := NewRunner(factory, WithExecutor(executor.Direct{}))
	require.NoError(t, r.TarBuildSteps(outputPath))

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outputPath, result.Destination)
	assert.Equal(t, []string{"v1"}, result.Tags)
	require.NoError(t, result.ImageDigest.Validate())

	out, err := os.Open(outputPath)
	require.NoError(t, err)
	defer out.Close()

	var names []string
	tr := tar.NewReader(out)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Contains(t, names, "manifest.json")
	require.Len(t, names, 3, "config blob, layer blob, manifest")
}

// TestScratchBuildReusesCache runs the same build twice over one cache and
// verifies the rebuilt image is identical.
func TestScratchBuildReusesCache(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "app.bin"), []byte("payload"), 0o644))

	cfg := &config.Config{
		BaseImage:   "scratch",
		TargetImage: "registry.example.com/team/app",
		Layers:      []config.LayerSource{{Name: "app", Paths: []string{appDir}}},
	}
	require.NoError(t, cfg.Validate())

	layerCache, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	defer layerCache.Close()

	run := func(out string) *BuildResult {
		factory, err := NewBuildFactory(cfg, layerCache)
		require.NoError(t, err)
		r := NewRunner(factory, WithExecutor(executor.Direct{}))
		require.NoError(t, r.TarBuildSteps(out))
		result, err := r.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	first := run(filepath.Join(dir, "a.tar"))
	second := run(filepath.Join(dir, "b.tar"))
	assert.Equal(t, first.ImageID, second.ImageID, "identical sources produce an identical image")
}

func TestNewBuildFactoryRejectsBadReferences(t *testing.T) {
	layerCache, err := cache.Open(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer layerCache.Close()

	_, err = NewBuildFactory(&config.Config{BaseImage: "scratch", TargetImage: ""}, layerCache)
	require.Error(t, err)
}
