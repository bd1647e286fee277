// Package image defines the value types build steps exchange: digests,
// content descriptors, layers, references, and the in-memory image model.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Digest is a sha256 content address in "sha256:<hex>" form.
type Digest string

// NewDigest computes the digest of b.
func NewDigest(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest("sha256:" + hex.EncodeToString(sum[:]))
}

// FromHex builds a Digest from a raw hex string.
func FromHex(hexSum string) Digest {
	return Digest("sha256:" + hexSum)
}

// Hex returns the hex portion of the digest.
func (d Digest) Hex() string {
	return strings.TrimPrefix(string(d), "sha256:")
}

// Validate checks the digest's shape.
func (d Digest) Validate() error {
	s := string(d)
	if !strings.HasPrefix(s, "sha256:") || len(s) != len("sha256:")+64 {
		return fmt.Errorf("malformed digest %q", s)
	}
	return nil
}

// Descriptor identifies a blob by digest and size.
type Descriptor struct {
	MediaType string `json:"mediaType,omitempty"`
	Digest    Digest `json:"digest"`
	Size      int64  `json:"size"`
}

// Layer is one image layer: the descriptor of its compressed blob plus the
// diff ID of its uncompressed content.
type Layer struct {
	Name       string
	Descriptor Descriptor
	DiffID     Digest
}

// Image is the in-memory model of a built or pulled container image.
type Image struct {
	Reference    Reference
	Created      time.Time
	Architecture string
	OS           string
	Layers       []Layer
	Env          []string
	Entrypoint   []string
	Cmd          []string
	Labels       map[string]string
}

// ID derives a stable identifier for the image from its layer diff IDs and
// runtime configuration.
func (i *Image) ID() Digest {
	var b strings.Builder
	for _, l := range i.Layers {
		b.WriteString(string(l.DiffID))
		b.WriteByte('\n')
	}
	b.WriteString(strings.Join(i.Env, "\x00"))
	b.WriteString(strings.Join(i.Entrypoint, "\x00"))
	b.WriteString(strings.Join(i.Cmd, "\x00"))
	return NewDigest([]byte(b.String()))
}
