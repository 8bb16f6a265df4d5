// Package config loads the emberctl client configuration: panel URL,
// session token, and console tuning. Values come from a YAML file with
// environment overrides, and a watcher picks up credential rotation while
// a console is open.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Config is the emberctl client configuration.
type Config struct {
	// PanelURL is the base URL of the Emberpanel API. Its scheme is the
	// session origin for the console's transport guard.
	PanelURL string `yaml:"panel_url"`

	// Token is the operator's bearer session token.
	Token string `yaml:"token"`

	// SocketPath is the websocket path on session endpoints.
	SocketPath string `yaml:"socket_path"`

	// BufferCap bounds the console log buffer; 0 means unbounded.
	BufferCap int `yaml:"buffer_cap"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PanelURL:   "http://localhost:8080",
		SocketPath: "/ws/console",
		BufferCap:  4000,
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "emberctl.yaml"
	}
	return filepath.Join(home, ".config", "emberctl", "config.yaml")
}

// Load reads the config file at path, layering it over the defaults and
// applying EMBERCTL_PANEL_URL / EMBERCTL_TOKEN environment overrides last.
// A missing file is not an error; the defaults and environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults + environment only.
	default:
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := os.Getenv("EMBERCTL_PANEL_URL"); v != "" {
		cfg.PanelURL = v
	}
	if v := os.Getenv("EMBERCTL_TOKEN"); v != "" {
		cfg.Token = v
	}

	if cfg.SocketPath == "" {
		cfg.SocketPath = Default().SocketPath
	}
	return cfg, nil
}
