package image

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
	}{
		{"alpine", Reference{Registry: DefaultRegistry, Repository: "alpine", Tag: "latest"}},
		{"library/alpine:3.20", Reference{Registry: DefaultRegistry, Repository: "library/alpine", Tag: "3.20"}},
		{"ghcr.io/acme/app:v1", Reference{Registry: "ghcr.io", Repository: "acme/app", Tag: "v1"}},
		{"localhost:5000/app", Reference{Registry: "localhost:5000", Repository: "app", Tag: "latest"}},
	}
	for _, tt := range tests {
		got, err := ParseReference(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseReferenceDigest(t *testing.T) {
	d := NewDigest([]byte("blob"))
	got, err := ParseReference("ghcr.io/acme/app@" + string(d))
	require.NoError(t, err)
	assert.Equal(t, d, got.Digest)
	assert.Empty(t, got.Tag)
}

func TestParseReferenceErrors(t *testing.T) {
	for _, in := range []string{"", "ghcr.io/app@sha256:short", "ghcr.io/:tag"} {
		_, err := ParseReference(in)
		assert.Error(t, err, in)
	}
}

func TestScratch(t *testing.T) {
	ref, err := ParseReference("scratch")
	require.NoError(t, err)
	assert.True(t, ref.Scratch())
	assert.Equal(t, "scratch", ref.String())
}

func TestReferenceRoundTrip(t *testing.T) {
	for _, in := range []string{"ghcr.io/acme/app:v1", "localhost:5000/app:latest"} {
		ref, err := ParseReference(in)
		require.NoError(t, err)
		assert.Equal(t, in, ref.String())
	}
}

func TestDigest(t *testing.T) {
	d := NewDigest([]byte("hello"))
	require.NoError(t, d.Validate())
	assert.True(t, strings.HasPrefix(string(d), "sha256:"))
	assert.Len(t, d.Hex(), 64)

	assert.Error(t, Digest("md5:abc").Validate())
}

func TestImageIDStable(t *testing.T) {
	img := func() *Image {
		return &Image{
			Layers: []Layer{{DiffID: NewDigest([]byte("l1"))}, {DiffID: NewDigest([]byte("l2"))}},
			Env:    []string{"PATH=/bin"},
			Cmd:    []string{"/app"},
		}
	}
	assert.Equal(t, img().ID(), img().ID())

	changed := img()
	changed.Env = append(changed.Env, "DEBUG=1")
	assert.NotEqual(t, img().ID(), changed.ID())
}
