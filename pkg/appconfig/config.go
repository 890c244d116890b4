// Package appconfig loads the kwatch demo configuration from
// ~/.kwatch/config.yaml, falling back to defaults when the file is absent.
package appconfig

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	yaml "sigs.k8s.io/yaml"
)

type WatchConfig struct {
	// Kind is the resource kind bound at startup.
	Kind string `json:"kind"`
	// Namespace scopes the watch; empty means all namespaces.
	Namespace string `json:"namespace"`
	// LabelSelector filters the watched objects.
	LabelSelector string `json:"labelSelector"`
}

type RegistryConfig struct {
	// RefreshSeconds is the discovery refresh interval.
	RefreshSeconds int `json:"refreshSeconds"`
}

type Config struct {
	Watch    WatchConfig    `json:"watch"`
	Registry RegistryConfig `json:"registry"`
	// EmptyObjectPlaceholder switches the singular "no data yet" value from
	// nil to an empty object.
	EmptyObjectPlaceholder bool `json:"emptyObjectPlaceholder"`
}

func Default() *Config {
	return &Config{
		Watch:    WatchConfig{Kind: "Pod"},
		Registry: RegistryConfig{RefreshSeconds: 30},
	}
}

func path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kwatch", "config.yaml"), nil
}

// Load reads ~/.kwatch/config.yaml if present, otherwise returns defaults.
func Load() (*Config, error) {
	cfg := Default()
	p, err := path()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}
	if cfg.Watch.Kind == "" {
		cfg.Watch.Kind = "Pod"
	}
	if cfg.Registry.RefreshSeconds <= 0 {
		cfg.Registry.RefreshSeconds = 30
	}
	return cfg, nil
}

// Save writes the config to ~/.kwatch/config.yaml, creating the directory if
// needed.
func Save(cfg *Config) error {
	p, err := path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
