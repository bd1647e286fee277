// Package tarball writes built images as docker-load compatible tar
// archives.
package tarball

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// BlobOpener resolves a layer blob by digest.
type BlobOpener func(digest image.Digest) (io.ReadCloser, error)

type manifestEntry struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags"`
	Layers   []string `json:"Layers"`
}

type configFile struct {
	Architecture string   `json:"architecture"`
	OS           string   `json:"os"`
	Created      string   `json:"created"`
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

// Write streams img as a docker-load compatible archive into w, pulling
// layer blobs through open.
func Write(w io.Writer, img *image.Image, tags []string, open BlobOpener) error {
	tw := tar.NewWriter(w)

	cfg := buildConfig(img)
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryInternal, "encode image config")
	}
	cfgName := img.ID().Hex() + ".json"
	if err := writeEntry(tw, cfgName, cfgBytes); err != nil {
		return err
	}

	layerNames := make([]string, 0, len(img.Layers))
	for _, layer := range img.Layers {
		name := layer.Descriptor.Digest.Hex() + ".tar.gz"
		layerNames = append(layerNames, name)
		if err := writeBlob(tw, name, layer, open); err != nil {
			return err
		}
	}

	manifest := []manifestEntry{{Config: cfgName, RepoTags: tags, Layers: layerNames}}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryInternal, "encode tar manifest")
	}
	if err := writeEntry(tw, "manifest.json", manifestBytes); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "finish tar archive")
	}
	return nil
}

func buildConfig(img *image.Image) configFile {
	var cfg configFile
	cfg.Architecture = img.Architecture
	cfg.OS = img.OS
	created := img.Created
	if created.IsZero() {
		created = time.Unix(0, 0).UTC()
	}
	cfg.Created = created.UTC().Format(time.RFC3339)
	cfg.Config.Env = img.Env
	cfg.Config.Entrypoint = img.Entrypoint
	cfg.Config.Cmd = img.Cmd
	cfg.Config.Labels = img.Labels
	cfg.RootFS.Type = "layers"
	for _, l := range img.Layers {
		cfg.RootFS.DiffIDs = append(cfg.RootFS.DiffIDs, string(l.DiffID))
	}
	return cfg
}

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, fmt.Sprintf("write tar header %s", name))
	}
	if _, err := tw.Write(content); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, fmt.Sprintf("write tar entry %s", name))
	}
	return nil
}

func writeBlob(tw *tar.Writer, name string, layer image.Layer, open BlobOpener) error {
	rc, err := open(layer.Descriptor.Digest)
	if err != nil {
		return err
	}
	defer rc.Close()

	hdr := &tar.Header{Name: name, Mode: 0o644, Size: layer.Descriptor.Size}
	if err := tw.WriteHeader(hdr); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, fmt.Sprintf("write tar header %s", name))
	}
	if _, err := io.Copy(tw, rc); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, fmt.Sprintf("write layer blob %s", name))
	}
	return nil
}
