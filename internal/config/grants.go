package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/grants_ui/internal/status"
)

const slugPlaceholder = "{slug}"

// GrantsConfig maps grant slugs to their status routing settings.
type GrantsConfig struct {
	// Defaults apply to any grant without its own entry.
	Defaults GrantSettings             `yaml:"defaults"`
	Grants   map[string]*GrantSettings `yaml:"grants"`
}

// GrantSettings holds the canonical URL per application status and the
// fallback path used when GAS cannot be reached. Paths may contain {slug}.
type GrantSettings struct {
	StatusURLs   map[string]string `yaml:"statusUrls"`
	FallbackPath string            `yaml:"fallbackPath"`
}

// LoadGrantsConfigFromPath loads the grants configuration from a specific path.
func LoadGrantsConfigFromPath(path string) (*GrantsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grants config: %w", err)
	}

	var cfg GrantsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse grants config: %w", err)
	}

	for slug, settings := range cfg.Grants {
		if settings == nil {
			return nil, fmt.Errorf("grant %s: settings are empty", slug)
		}
		for key, path := range settings.StatusURLs {
			if status.Parse(key) == status.None {
				return nil, fmt.Errorf("grant %s: unknown status %q", slug, key)
			}
			if !strings.HasPrefix(path, "/") {
				return nil, fmt.Errorf("grant %s: status url %q must be an absolute path", slug, path)
			}
		}
	}

	defaults := DefaultGrantsConfig().Defaults
	if cfg.Defaults.FallbackPath == "" {
		cfg.Defaults.FallbackPath = defaults.FallbackPath
	}
	if cfg.Defaults.StatusURLs == nil {
		cfg.Defaults.StatusURLs = defaults.StatusURLs
	}

	return &cfg, nil
}

// LoadGrantsConfigOrDefault loads grants config from path. An empty path
// yields the defaults. When the file cannot be loaded the defaults are
// returned together with the load error so the caller can report it.
func LoadGrantsConfigOrDefault(path string) (*GrantsConfig, error) {
	if path == "" {
		return DefaultGrantsConfig(), nil
	}
	cfg, err := LoadGrantsConfigFromPath(path)
	if err != nil {
		return DefaultGrantsConfig(), err
	}
	return cfg, nil
}

// DefaultGrantsConfig returns the routing used when no file is provided.
func DefaultGrantsConfig() *GrantsConfig {
	return &GrantsConfig{
		Defaults: GrantSettings{
			StatusURLs: map[string]string{
				string(status.Submitted): "/{slug}/confirmation",
				string(status.Reopened):  "/{slug}/summary",
				string(status.Cleared):   "/startpage",
			},
			FallbackPath: "/{slug}/confirmation",
		},
		Grants: map[string]*GrantSettings{},
	}
}

// For returns the settings for slug, falling back to the defaults per field.
func (c *GrantsConfig) For(slug string) GrantSettings {
	out := GrantSettings{
		StatusURLs:   make(map[string]string, len(c.Defaults.StatusURLs)),
		FallbackPath: c.Defaults.FallbackPath,
	}
	for k, v := range c.Defaults.StatusURLs {
		out.StatusURLs[strings.ToUpper(k)] = v
	}
	if g, ok := c.Grants[slug]; ok && g != nil {
		for k, v := range g.StatusURLs {
			out.StatusURLs[strings.ToUpper(k)] = v
		}
		if g.FallbackPath != "" {
			out.FallbackPath = g.FallbackPath
		}
	}
	return out
}

// StatusURL returns the canonical path for st with {slug} expanded, or ""
// when the status has no page.
func (s GrantSettings) StatusURL(st status.Application, slug string) string {
	path, ok := s.StatusURLs[string(st)]
	if !ok {
		return ""
	}
	return strings.ReplaceAll(path, slugPlaceholder, slug)
}

// Fallback returns the fallback path with {slug} expanded.
func (s GrantSettings) Fallback(slug string) string {
	return strings.ReplaceAll(s.FallbackPath, slugPlaceholder, slug)
}
