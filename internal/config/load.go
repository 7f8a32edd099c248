// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadGlobal reads the user-wide layer from path. A missing file is not an
// error: the built-in defaults apply, so a fresh install works without any
// setup step.
func LoadGlobal(path string) (GlobalConfig, error) {
	defaults := DefaultGlobal()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("base_image", defaults.BaseImage)
	v.SetDefault("resources.cpus", defaults.Resources.CPUs)
	v.SetDefault("resources.memory", defaults.Resources.Memory)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		return GlobalConfig{}, &ParseError{Layer: LayerGlobal, Path: path, Err: err}
	}

	var cfg GlobalConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return GlobalConfig{}, &ParseError{Layer: LayerGlobal, Path: path, Err: err}
	}

	return cfg, nil
}

// LoadProject reads the per-project layer from path. A missing file is
// reported via os.IsNotExist on the returned error so callers can suggest
// running 'agentbox init'.
//
// The project layer is decoded with yaml directly rather than viper:
// viper lowercases all map keys, and environment variable names are
// case-sensitive.
func LoadProject(path string) (ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProjectConfig{}, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProjectConfig{}, &ParseError{Layer: LayerProject, Path: path, Err: err}
	}

	return cfg, nil
}

// SaveProject writes the project layer as YAML, creating parent directories
// as needed. Used by 'agentbox init'.
func SaveProject(path string, cfg ProjectConfig) error {
	if err := validateProjectName(cfg.Name); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode project configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project storage directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write project configuration: %w", err)
	}
	return nil
}

// SaveGlobal writes the global layer as YAML, creating parent directories
// as needed.
func SaveGlobal(path string, cfg GlobalConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode global configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create agentbox directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write global configuration: %w", err)
	}
	return nil
}
