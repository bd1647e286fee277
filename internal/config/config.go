// Package config loads and validates the imagekiln build configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents one build's configuration.
type Config struct {
	BaseImage   string          `yaml:"base_image"`
	TargetImage string          `yaml:"target_image"`
	Tags        []string        `yaml:"tags,omitempty"`
	Layers      []LayerSource   `yaml:"layers"`
	Container   ContainerConfig `yaml:"container,omitempty"`
	Cache       CacheConfig     `yaml:"cache,omitempty"`
	Registry    RegistryConfig  `yaml:"registry,omitempty"`
	Execution   ExecutionConfig `yaml:"execution,omitempty"`
}

// LayerSource describes one application layer built from local files.
type LayerSource struct {
	Name  string   `yaml:"name"`
	Paths []string `yaml:"paths"`
}

// ContainerConfig carries the runtime configuration baked into the image.
type ContainerConfig struct {
	Env        []string          `yaml:"env,omitempty"`
	Entrypoint []string          `yaml:"entrypoint,omitempty"`
	Cmd        []string          `yaml:"cmd,omitempty"`
	Labels     map[string]string `yaml:"labels,omitempty"`
}

// CacheConfig configures the layer cache.
type CacheConfig struct {
	Directory string `yaml:"directory,omitempty"`
}

// RegistryConfig configures registry access.
type RegistryConfig struct {
	CredentialFile string `yaml:"credential_file,omitempty"`
	Insecure       bool   `yaml:"insecure,omitempty"`

	// Retry settings for transient blob and manifest upload failures.
	RetryBackoff  string `yaml:"retry_backoff,omitempty"` // fixed|linear|exponential
	RetryInitial  string `yaml:"retry_initial,omitempty"` // e.g. "500ms"
	RetryMaxDelay string `yaml:"retry_max_delay,omitempty"`
	RetryAttempts int    `yaml:"retry_attempts,omitempty"`
}

// ExecutionConfig selects the execution context for the step graph.
type ExecutionConfig struct {
	Serialized bool `yaml:"serialized,omitempty"`
	Workers    int  `yaml:"workers,omitempty"`
}

// Load loads configuration from the specified file. Environment variables in
// the YAML content are expanded, with values from a .env file if one exists.
func Load(configPath string) (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseImage == "" {
		c.BaseImage = "scratch"
	}
	if c.Cache.Directory == "" {
		home, err := os.UserCacheDir()
		if err != nil {
			home = "."
		}
		c.Cache.Directory = filepath.Join(home, "imagekiln")
	}
}

// Init writes an example configuration to configPath.
func Init(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
		}
	}
	return os.WriteFile(configPath, []byte(exampleConfig), 0o644)
}

const exampleConfig = `# imagekiln build configuration
base_image: alpine:3.20
target_image: ghcr.io/example/app
tags: [latest]

layers:
  - name: app
    paths: ["./dist"]

container:
  entrypoint: ["/app/server"]
  env:
    - "PORT=8080"

registry:
  retry_backoff: exponential
  retry_initial: 500ms
  retry_max_delay: 10s
  retry_attempts: 2

execution:
  serialized: false
  workers: 0 # 0 = number of CPUs
`
