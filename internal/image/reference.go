package image

import (
	"fmt"
	"strings"
)

// DefaultRegistry is assumed when a reference names no registry host.
const DefaultRegistry = "registry-1.docker.io"

// DefaultTag is assumed when a reference names no tag.
const DefaultTag = "latest"

// Reference names an image within a registry.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     Digest
}

// ParseReference parses "registry/repository[:tag][@digest]" with docker-style
// defaults. "scratch" parses to the zero reference with Scratch() == true.
func ParseReference(s string) (Reference, error) {
	if s == "" {
		return Reference{}, fmt.Errorf("empty image reference")
	}
	if s == "scratch" {
		return Reference{Repository: "scratch"}, nil
	}

	ref := Reference{Registry: DefaultRegistry, Tag: DefaultTag}

	rest := s
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		ref.Digest = Digest(rest[at+1:])
		if err := ref.Digest.Validate(); err != nil {
			return Reference{}, fmt.Errorf("parse reference %q: %w", s, err)
		}
		rest = rest[:at]
		ref.Tag = ""
	}

	// A first path component containing '.' or ':' (or "localhost") is a
	// registry host, docker-style.
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		first := rest[:slash]
		if strings.ContainsAny(first, ".:") || first == "localhost" {
			ref.Registry = first
			rest = rest[slash+1:]
		}
	}

	if colon := strings.LastIndexByte(rest, ':'); colon >= 0 {
		ref.Tag = rest[colon+1:]
		rest = rest[:colon]
	}

	if rest == "" {
		return Reference{}, fmt.Errorf("image reference %q has no repository", s)
	}
	ref.Repository = rest
	return ref, nil
}

// Scratch reports whether the reference names the empty base image.
func (r Reference) Scratch() bool {
	return r.Registry == "" && r.Repository == "scratch"
}

// String renders the reference.
func (r Reference) String() string {
	if r.Scratch() {
		return "scratch"
	}
	var b strings.Builder
	if r.Registry != "" {
		b.WriteString(r.Registry)
		b.WriteByte('/')
	}
	b.WriteString(r.Repository)
	if r.Digest != "" {
		b.WriteByte('@')
		b.WriteString(string(r.Digest))
	} else if r.Tag != "" {
		b.WriteByte(':')
		b.WriteString(r.Tag)
	}
	return b.String()
}

// WithTag returns a copy of the reference pointing at tag.
func (r Reference) WithTag(tag string) Reference {
	r.Tag = tag
	r.Digest = ""
	return r
}
