package cache

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/imagekiln/internal/image"
)

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWriteAndRetrieve(t *testing.T) {
	c := openCache(t)
	content := strings.Repeat("layer content ", 100)

	layer, err := c.Write("app", strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, layer.Descriptor.Digest.Validate())
	require.NoError(t, layer.DiffID.Validate())
	assert.Equal(t, image.NewDigest([]byte(content)), layer.DiffID)
	assert.Positive(t, layer.Descriptor.Size)

	got, ok, err := c.Retrieve(layer.Descriptor.Digest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, layer, got)
}

func TestBlobDecompressesToOriginal(t *testing.T) {
	c := openCache(t)
	content := "the uncompressed layer tarball"

	layer, err := c.Write("app", strings.NewReader(content))
	require.NoError(t, err)

	rc, err := c.Blob(layer.Descriptor.Digest)
	require.NoError(t, err)
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	require.NoError(t, err)
	out, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, content, string(out))
}

func TestWriteCompressed(t *testing.T) {
	c := openCache(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("pulled base layer"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	diffID := image.NewDigest([]byte("pulled base layer"))
	layer, err := c.WriteCompressed("base-0", diffID, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, diffID, layer.DiffID)
	assert.Equal(t, int64(buf.Len()), layer.Descriptor.Size)

	_, ok, err := c.Retrieve(layer.Descriptor.Digest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetrieveMiss(t *testing.T) {
	c := openCache(t)
	_, ok, err := c.Retrieve(image.NewDigest([]byte("absent")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexInMemory(t *testing.T) {
	idx, err := OpenIndex(":memory:")
	require.NoError(t, err)
	defer idx.Close()

	layer := image.Layer{
		Name:   "app",
		DiffID: image.NewDigest([]byte("uncompressed")),
		Descriptor: image.Descriptor{
			Digest: image.NewDigest([]byte("compressed")),
			Size:   42,
		},
	}
	require.NoError(t, idx.Put(layer))
	// Re-putting the same digest only refreshes last_used.
	require.NoError(t, idx.Put(layer))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok, err := idx.Get(layer.Descriptor.Digest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, layer, got)
}
