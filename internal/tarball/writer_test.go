package tarball

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/imagekiln/internal/image"
)

func TestWrite(t *testing.T) {
	blob := []byte("compressed layer")
	layer := image.Layer{
		Name:   "app",
		DiffID: image.NewDigest([]byte("uncompressed")),
		Descriptor: image.Descriptor{
			Digest: image.NewDigest(blob),
			Size:   int64(len(blob)),
		},
	}
	img := &image.Image{
		Architecture: "amd64",
		OS:           "linux",
		Layers:       []image.Layer{layer},
		Entrypoint:   []string{"/app"},
	}

	var buf bytes.Buffer
	err := Write(&buf, img, []string{"ghcr.io/acme/app:v1"}, func(d image.Digest) (io.ReadCloser, error) {
		require.Equal(t, layer.Descriptor.Digest, d)
		return io.NopCloser(bytes.NewReader(blob)), nil
	})
	require.NoError(t, err)

	entries := map[string][]byte{}
	tr := tar.NewReader(&buf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = content
	}

	require.Contains(t, entries, "manifest.json")
	var manifest []manifestEntry
	require.NoError(t, json.Unmarshal(entries["manifest.json"], &manifest))
	require.Len(t, manifest, 1)
	assert.Equal(t, []string{"ghcr.io/acme/app:v1"}, manifest[0].RepoTags)
	require.Len(t, manifest[0].Layers, 1)

	assert.Equal(t, blob, entries[manifest[0].Layers[0]])

	var cfg configFile
	require.NoError(t, json.Unmarshal(entries[manifest[0].Config], &cfg))
	assert.Equal(t, "layers", cfg.RootFS.Type)
	assert.Equal(t, []string{string(layer.DiffID)}, cfg.RootFS.DiffIDs)
	assert.Equal(t, []string{"/app"}, cfg.Config.Entrypoint)
}
