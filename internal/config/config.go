// Package config loads the CLI configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks without an explicit --config.
const DefaultPath = "/etc/bootwright/config.yaml"

type Config struct {
	// Sysroot is the physical root to operate on.
	Sysroot string `yaml:"sysroot,omitempty"`
	// Bootloader pins a driver instead of probing (grub2, syslinux,
	// uboot, aboot, zipl, none).
	Bootloader string `yaml:"bootloader,omitempty"`
	// LogLevel is a logrus level name.
	LogLevel string `yaml:"logLevel,omitempty"`
}

func NewDefault() *Config {
	return &Config{
		Sysroot:  "/",
		LogLevel: "info",
	}
}

// Load reads the config at path, falling back to defaults when the
// default path is absent.
func Load(path string) (*Config, error) {
	cfg := NewDefault()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if cfg.Sysroot == "" {
		cfg.Sysroot = "/"
	}
	return cfg, nil
}
