package config

import (
	"time"

	"github.com/kilnworks/imagekiln/internal/image"
	"github.com/kilnworks/imagekiln/internal/kilnerr"
	"github.com/kilnworks/imagekiln/internal/retry"
)

// Validate checks the configuration for errors that would otherwise surface
// mid-build.
func (c *Config) Validate() error {
	if _, err := image.ParseReference(c.BaseImage); err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryConfig, "invalid base_image")
	}

	if c.TargetImage == "" {
		return kilnerr.New(kilnerr.CategoryConfig, "target_image is required")
	}
	target, err := image.ParseReference(c.TargetImage)
	if err != nil {
		return kilnerr.Wrap(err, kilnerr.CategoryConfig, "invalid target_image")
	}

	if len(c.Layers) == 0 {
		return kilnerr.New(kilnerr.CategoryConfig, "at least one layer source is required")
	}
	seen := map[string]bool{}
	for _, l := range c.Layers {
		if l.Name == "" {
			return kilnerr.New(kilnerr.CategoryConfig, "layer source without a name")
		}
		if seen[l.Name] {
			return kilnerr.Newf(kilnerr.CategoryConfig, "duplicate layer source %q", l.Name)
		}
		seen[l.Name] = true
		if len(l.Paths) == 0 {
			return kilnerr.Newf(kilnerr.CategoryConfig, "layer source %q has no paths", l.Name)
		}
	}

	if c.Execution.Workers < 0 {
		return kilnerr.New(kilnerr.CategoryConfig, "execution.workers must not be negative")
	}

	if _, err := c.RetryPolicy(); err != nil {
		return err
	}

	if len(c.Tags) == 0 {
		c.Tags = []string{target.Tag}
	}
	return nil
}

// RetryPolicy builds the registry retry policy from the configuration.
// Unset fields fall back to the default policy.
func (c *Config) RetryPolicy() (retry.Policy, error) {
	var initial, maxDelay time.Duration
	var err error
	if c.Registry.RetryInitial != "" {
		if initial, err = time.ParseDuration(c.Registry.RetryInitial); err != nil {
			return retry.Policy{}, kilnerr.Wrap(err, kilnerr.CategoryConfig, "invalid registry.retry_initial")
		}
	}
	if c.Registry.RetryMaxDelay != "" {
		if maxDelay, err = time.ParseDuration(c.Registry.RetryMaxDelay); err != nil {
			return retry.Policy{}, kilnerr.Wrap(err, kilnerr.CategoryConfig, "invalid registry.retry_max_delay")
		}
	}
	attempts := -1
	if c.Registry.RetryAttempts > 0 {
		attempts = c.Registry.RetryAttempts
	}
	p := retry.NewPolicy(retry.BackoffMode(c.Registry.RetryBackoff), initial, maxDelay, attempts)
	if err := p.Validate(); err != nil {
		return retry.Policy{}, kilnerr.Wrap(err, kilnerr.CategoryConfig, "invalid registry retry settings")
	}
	return p, nil
}

// TargetTags returns the fully qualified references to push, one per tag.
func (c *Config) TargetTags() ([]image.Reference, error) {
	target, err := image.ParseReference(c.TargetImage)
	if err != nil {
		return nil, err
	}
	refs := make([]image.Reference, 0, len(c.Tags))
	for _, tag := range c.Tags {
		refs = append(refs, target.WithTag(tag))
	}
	return refs, nil
}
