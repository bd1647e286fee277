// Package cache stores compressed layer blobs on disk, addressed by digest,
// with a SQLite metadata index. Layer pull and build steps use it so repeated
// builds skip work whose inputs have not changed.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// Cache is one on-disk layer cache. Safe for concurrent use.
type Cache struct {
	dir   string
	index *Index
}

// Open opens (creating if needed) the cache rooted at dir.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryCache, "create cache directory")
	}
	index, err := OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}
	return &Cache{dir: dir, index: index}, nil
}

// Close releases the cache's index.
func (c *Cache) Close() error {
	return c.index.Close()
}

// Count returns the number of indexed layers.
func (c *Cache) Count() (int, error) {
	return c.index.Count()
}

// Write compresses the content read from r into the cache and returns the
// resulting layer: digest and size of the compressed blob, diff ID of the
// uncompressed content.
func (c *Cache) Write(name string, r io.Reader) (image.Layer, error) {
	tmp, err := os.CreateTemp(c.dir, "blob-*")
	if err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "create temp blob")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	compressedHash := sha256.New()
	diffIDHash := sha256.New()

	gz := gzip.NewWriter(io.MultiWriter(tmp, compressedHash))
	if _, err := io.Copy(io.MultiWriter(gz, diffIDHash), r); err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "compress layer content")
	}
	if err := gz.Close(); err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "finish layer compression")
	}

	info, err := tmp.Stat()
	if err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "stat temp blob")
	}
	if err := tmp.Close(); err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "flush temp blob")
	}

	layer := image.Layer{
		Name: name,
		Descriptor: image.Descriptor{
			Digest: image.FromHex(hex.EncodeToString(compressedHash.Sum(nil))),
			Size:   info.Size(),
		},
		DiffID: image.FromHex(hex.EncodeToString(diffIDHash.Sum(nil))),
	}

	if err := os.Rename(tmp.Name(), c.blobPath(layer.Descriptor.Digest)); err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "store blob")
	}
	if err := c.index.Put(layer); err != nil {
		return image.Layer{}, err
	}
	return layer, nil
}

// WriteCompressed stores content that is already compressed, hashing it as it
// is copied in. diffID must be supplied by the caller since the uncompressed
// content is not observed here.
func (c *Cache) WriteCompressed(name string, diffID image.Digest, r io.Reader) (image.Layer, error) {
	tmp, err := os.CreateTemp(c.dir, "blob-*")
	if err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "create temp blob")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "copy blob")
	}
	if err := tmp.Close(); err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "flush temp blob")
	}

	layer := image.Layer{
		Name: name,
		Descriptor: image.Descriptor{
			Digest: image.FromHex(hex.EncodeToString(hash.Sum(nil))),
			Size:   size,
		},
		DiffID: diffID,
	}

	if err := os.Rename(tmp.Name(), c.blobPath(layer.Descriptor.Digest)); err != nil {
		return image.Layer{}, kilnerr.Wrap(err, kilnerr.CategoryCache, "store blob")
	}
	if err := c.index.Put(layer); err != nil {
		return image.Layer{}, err
	}
	return layer, nil
}

// Retrieve looks up a cached layer by the digest of its compressed blob.
func (c *Cache) Retrieve(digest image.Digest) (image.Layer, bool, error) {
	layer, ok, err := c.index.Get(digest)
	if err != nil || !ok {
		return image.Layer{}, false, err
	}
	if _, err := os.Stat(c.blobPath(digest)); err != nil {
		// Index entry without a blob: treat as a miss.
		return image.Layer{}, false, nil
	}
	return layer, true, nil
}

// Blob opens the compressed blob for the given digest.
func (c *Cache) Blob(digest image.Digest) (io.ReadCloser, error) {
	f, err := os.Open(c.blobPath(digest))
	if err != nil {
		return nil, kilnerr.Wrap(err, kilnerr.CategoryCache, fmt.Sprintf("open blob %s", digest))
	}
	return f, nil
}

func (c *Cache) blobPath(digest image.Digest) string {
	return filepath.Join(c.dir, "blobs", digest.Hex())
}
