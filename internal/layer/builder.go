// Package layer builds application layer content from local files.
package layer

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// epoch is the fixed modification time stamped on every entry, so a layer's
// content address depends only on the files, not on when it was built.
var epoch = time.Unix(0, 0).UTC()

// Build writes the files under each source path into w as an uncompressed
// tar stream. Directories are walked recursively; entries are emitted in
// sorted path order so the stream is reproducible.
func Build(w io.Writer, paths []string) error {
	entries, err := collect(paths)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	for _, e := range entries {
		if err := writeEntry(tw, e); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "finalize layer archive")
	}
	return nil
}

type entry struct {
	archivePath string
	sourcePath  string
	info        fs.FileInfo
}

func collect(paths []string) ([]entry, error) {
	var entries []entry
	for _, p := range paths {
		root := filepath.Clean(p)
		base := filepath.Base(root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			archivePath := base
			if rel != "." {
				archivePath = base + "/" + filepath.ToSlash(rel)
			}
			entries = append(entries, entry{archivePath: archivePath, sourcePath: path, info: info})
			return nil
		})
		if err != nil {
			return nil, kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "collect layer source "+p)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].archivePath < entries[j].archivePath })
	return entries, nil
}

func writeEntry(tw *tar.Writer, e entry) error {
	hdr, err := tar.FileInfoHeader(e.info, "")
	if err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "archive header for "+e.sourcePath)
	}
	hdr.Name = e.archivePath
	if e.info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
		hdr.Name += "/"
	}
	hdr.ModTime = epoch
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uid = 0
	hdr.Gid = 0
	hdr.Uname = ""
	hdr.Gname = ""

	if err := tw.WriteHeader(hdr); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "write archive header for "+e.archivePath)
	}
	if e.info.Mode().IsRegular() {
		f, err := os.Open(e.sourcePath)
		if err != nil {
			return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "open "+e.sourcePath)
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return kilnerr.Wrap(err, kilnerr.CategoryFileSystem, "copy "+e.sourcePath)
		}
	}
	return nil
}
