package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries the paths and toggles every component needs. The
// installation root is resolved once here and passed explicitly into
// constructors; nothing reads it from ambient state afterwards.
type Config struct {
	// Root is the installation root directory holding auth_accounts.json,
	// slot_registry.json and the default slot's auth.json.
	Root string `yaml:"root" json:"root"`

	// LegacyRoot optionally points at a previous installation root that is
	// still scanned for slot directories. Empty disables the legacy scan.
	LegacyRoot string `yaml:"legacy_root" json:"legacy_root"`

	Debug   bool   `yaml:"debug" json:"debug"`
	LogFile string `yaml:"log_file" json:"log_file"`
}

const (
	envRoot        = "AGENTAUTH_ROOT"
	envLegacyRoot  = "AGENTAUTH_LEGACY_ROOT"
	defaultDirName = ".agentauth"
)

// Default returns a configuration rooted under the user's home directory.
func Default() *Config {
	root := defaultDirName
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, defaultDirName)
	}
	return &Config{Root: root}
}

// Load reads a configuration file (YAML or JSON, by extension) and applies
// environment overrides. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := unmarshalByExt(path, data, cfg); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalByExt(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("failed to parse config file (tried YAML and JSON)")
			}
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envRoot)); v != "" {
		c.Root = v
	}
	if v := strings.TrimSpace(os.Getenv(envLegacyRoot)); v != "" {
		c.LegacyRoot = v
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("config: root directory must not be empty")
	}
	return nil
}
