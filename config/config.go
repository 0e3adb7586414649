package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/k1LoW/expand"
)

const appName = "topng"

var (
	homePath       string
	configHomePath string
	stateHomePath  string
)

type Config struct {
	// Whether to write error.json to the state directory when a run fails
	DumpError *bool `yaml:"dumpError,omitempty" json:"dumpError,omitempty"`
	// External decoders for formats the built-in decoders do not recognize
	Fallbacks []Fallback `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
}

type Fallback struct {
	If      string `yaml:"if,omitempty" json:"if,omitempty"` // condition to check
	Command string `yaml:"command" json:"command"`           // command writing the decodable image to stdout
}

func init() {
	var err error
	homePath, err = os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
}

// Load loads the configuration from the config file.
// It searches for config files in the following order:
// 1. $XDG_CONFIG_HOME/topng/config-{profile}.yml
// 2. $XDG_CONFIG_HOME/topng/config.yml
// If no config file is found, it returns an empty Config struct.
func Load(profile string) (*Config, error) {
	var configBasePaths []string
	if profile != "" {
		configBasePaths = append(configBasePaths, filepath.Join(configPath(), fmt.Sprintf("config-%s", profile)))
	}
	configBasePaths = append(configBasePaths, filepath.Join(configPath(), "config"))
	cfg := &Config{}
	for _, basePath := range configBasePaths {
		for _, ext := range []string{".yml", ".yaml"} {
			configPath := basePath + ext
			if b, err := os.ReadFile(configPath); err == nil {
				if err := yaml.Unmarshal(expand.ExpandenvYAMLBytes(b), cfg); err != nil {
					return nil, fmt.Errorf("failed to unmarshal config: %w", err)
				}
				if err := cfg.validate(); err != nil {
					return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
				}
				return cfg, nil
			}
		}
	}
	// If no config file is found, return an empty config
	return cfg, nil
}

// DumpErrorEnabled reports whether failed runs should leave an error.json behind.
func (c *Config) DumpErrorEnabled() bool {
	return c != nil && c.DumpError != nil && *c.DumpError
}

func (c *Config) validate() error {
	for i, f := range c.Fallbacks {
		if f.Command == "" {
			return fmt.Errorf("fallbacks[%d]: command is required", i)
		}
	}
	return nil
}

// configPath returns the path to the configuration directory.
func configPath() string {
	if configHomePath != "" {
		return configHomePath
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		configHomePath = filepath.Join(v, appName)
	} else {
		configHomePath = filepath.Join(homePath, ".config", appName)
	}
	return configHomePath
}

func StateHomePath() string {
	if stateHomePath != "" {
		return stateHomePath
	}
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		stateHomePath = filepath.Join(v, appName)
	} else {
		stateHomePath = filepath.Join(homePath, ".local", "state", appName)
	}
	return stateHomePath
}
