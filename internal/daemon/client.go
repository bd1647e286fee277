// Package daemon provides the local container daemon collaborator used by
// the daemon-load build mode.
package daemon

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// Client loads image tarballs into a local daemon.
type Client interface {
	// Load streams a tarball into the daemon and returns the daemon's
	// name for the loaded image.
	Load(ctx context.Context, tarball io.Reader) (string, error)
}

// CLIClient loads images by piping a tarball to the `docker load` (or
// compatible) command line tool.
type CLIClient struct {
	// Binary is the tool to invoke; defaults to "docker".
	Binary string
}

// NewCLIClient creates a client invoking the named binary, or "docker" when
// empty.
func NewCLIClient(binary string) *CLIClient {
	if binary == "" {
		binary = "docker"
	}
	return &CLIClient{Binary: binary}
}

// Load implements Client.
func (c *CLIClient) Load(ctx context.Context, tarball io.Reader) (string, error) {
	cmd := exec.CommandContext(ctx, c.Binary, "load")
	cmd.Stdin = tarball

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", kilnerr.Wrap(err, kilnerr.CategoryDaemon, "load image into daemon: "+msg)
	}

	// Expected output: "Loaded image: <name>" (or "Loaded image ID: <id>").
	out := strings.TrimSpace(stdout.String())
	if _, after, ok := strings.Cut(out, ": "); ok {
		return strings.TrimSpace(after), nil
	}
	return out, nil
}
