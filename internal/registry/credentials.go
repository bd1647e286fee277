// Package registry provides the registry-facing collaborators of a build:
// credential lookup, push/pull authorization, and blob and manifest transfer.
// The wire protocol support is intentionally shallow; the step runner treats
// these as opaque units of work.
package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

// Credential is a username/password pair for one registry.
type Credential struct {
	Username string
	Password string
}

// Anonymous reports whether the credential is empty.
func (c Credential) Anonymous() bool {
	return c.Username == "" && c.Password == ""
}

// CredentialStore reads docker-style config.json credential files.
type CredentialStore struct {
	path string
}

// NewCredentialStore creates a store reading from path, or from the default
// ~/.docker/config.json when path is empty.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

type dockerConfig struct {
	Auths map[string]struct {
		Auth     string `json:"auth,omitempty"`
		Username string `json:"username,omitempty"`
		Password string `json:"password,omitempty"`
	} `json:"auths"`
}

// Get looks up the credential for a registry host. A missing config file or
// an unlisted registry yields the anonymous credential, not an error.
func (s *CredentialStore) Get(registryHost string) (Credential, error) {
	path := s.path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Credential{}, nil
		}
		path = filepath.Join(home, ".docker", "config.json")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Credential{}, nil
	}
	if err != nil {
		return Credential{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, "read credential file")
	}

	var cfg dockerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Credential{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, fmt.Sprintf("parse credential file %s", path))
	}

	for host, entry := range cfg.Auths {
		if !matchesHost(host, registryHost) {
			continue
		}
		if entry.Auth != "" {
			decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
			if err != nil {
				return Credential{}, kilnerr.Wrap(err, kilnerr.CategoryAuth, "decode auth entry")
			}
			user, pass, ok := strings.Cut(string(decoded), ":")
			if !ok {
				return Credential{}, kilnerr.New(kilnerr.CategoryAuth, "malformed auth entry")
			}
			return Credential{Username: user, Password: pass}, nil
		}
		return Credential{Username: entry.Username, Password: entry.Password}, nil
	}
	return Credential{}, nil
}

func matchesHost(entry, host string) bool {
	// Entries may carry a scheme prefix, docker-style.
	entry = strings.TrimPrefix(entry, "https://")
	entry = strings.TrimPrefix(entry, "http://")
	entry = strings.TrimSuffix(entry, "/")
	return entry == host
}
