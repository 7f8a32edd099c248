// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
)

const (
	// LayerGlobal identifies the user-wide configuration document.
	LayerGlobal Layer = "global"
	// LayerProject identifies the per-project configuration document.
	LayerProject Layer = "project"

	// MountModeReadWrite mounts a path read-write.
	MountModeReadWrite MountMode = "rw"
	// MountModeReadOnly mounts a path read-only.
	MountModeReadOnly MountMode = "ro"
)

var (
	// ErrParse is the sentinel error wrapped by ParseError.
	ErrParse = errors.New("malformed configuration")
	// ErrValidation is the sentinel error wrapped by ValidationError.
	ErrValidation = errors.New("invalid configuration")
)

type (
	// Layer names a configuration source document.
	Layer string

	// MountMode is the access mode of a volume mount.
	MountMode string

	// Resources are container resource limits.
	Resources struct {
		// CPUs is the number of CPUs to allocate.
		CPUs int `mapstructure:"cpus" yaml:"cpus"`
		// Memory is the memory limit in Docker notation (e.g. "2g", "512m").
		Memory string `mapstructure:"memory" yaml:"memory"`
	}

	// Mount is one bind mount requested by the project layer.
	Mount struct {
		Source string    `mapstructure:"source" yaml:"source"`
		Target string    `mapstructure:"target" yaml:"target"`
		Mode   MountMode `mapstructure:"mode" yaml:"mode,omitempty"`
	}

	// GlobalConfig is the user-wide layer: base image and default resource
	// limits. Stored at ~/.agentbox/config.yaml.
	GlobalConfig struct {
		BaseImage string    `mapstructure:"base_image" yaml:"base_image"`
		Resources Resources `mapstructure:"resources" yaml:"resources"`
	}

	// ProjectConfig is the per-project layer. Collection fields (profiles,
	// mounts, environment) are taken as-is during the merge, never combined
	// element-wise with a global counterpart.
	ProjectConfig struct {
		Name        string            `mapstructure:"name" yaml:"name"`
		BaseImage   string            `mapstructure:"base_image" yaml:"base_image,omitempty"`
		Resources   Resources         `mapstructure:"resources" yaml:"resources,omitempty"`
		Profiles    []string          `mapstructure:"profiles" yaml:"profiles,omitempty"`
		Mounts      []Mount           `mapstructure:"mounts" yaml:"mounts,omitempty"`
		Environment map[string]string `mapstructure:"environment" yaml:"environment,omitempty"`
	}

	// EffectiveConfig is the result of merging the two layers. It is never
	// persisted; Resolve recomputes it on every command invocation.
	EffectiveConfig struct {
		ProjectName string
		BaseImage   string
		Resources   Resources
		Profiles    []string
		Mounts      []Mount
		Environment map[string]string
	}

	// ParseError reports a malformed source document, identifying the
	// offending layer and field path. It wraps ErrParse for errors.Is.
	ParseError struct {
		Layer Layer
		Path  string
		Err   error
	}

	// ValidationError reports a field that fails validation. It wraps
	// ErrValidation for errors.Is.
	ValidationError struct {
		Field  string
		Value  string
		Reason string
	}
)

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s configuration %s: %v", e.Layer, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return ErrParse }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DefaultGlobal returns the built-in global layer used when no global
// document exists on disk.
func DefaultGlobal() GlobalConfig {
	return GlobalConfig{
		BaseImage: "debian:bookworm-slim",
		Resources: Resources{CPUs: 2, Memory: "2g"},
	}
}
