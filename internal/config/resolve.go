// SPDX-License-Identifier: MPL-2.0

package config

import (
	"regexp"
	"strings"
)

// projectNamePattern constrains names to characters safe for use as a
// container-name component.
var projectNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// maxProjectNameLen bounds the project-name contribution to container names
// so "agentbox-<name>-<slot>" stays within Docker's name limits.
const maxProjectNameLen = 40

// Resolve merges the project layer over the global layer into one effective
// configuration. It is a pure function: no I/O, no mutation of its inputs,
// deterministic for a given input pair. Scalar fields present in the
// project layer override the global ones; unset project scalars fall back.
// Collection fields come from the project layer as-is.
func Resolve(global GlobalConfig, proj ProjectConfig) (EffectiveConfig, error) {
	if err := validateProjectName(proj.Name); err != nil {
		return EffectiveConfig{}, err
	}

	eff := EffectiveConfig{
		ProjectName: proj.Name,
		BaseImage:   global.BaseImage,
		Resources:   global.Resources,
		Profiles:    proj.Profiles,
		Mounts:      proj.Mounts,
		Environment: proj.Environment,
	}

	if proj.BaseImage != "" {
		eff.BaseImage = proj.BaseImage
	}
	if proj.Resources.CPUs != 0 {
		eff.Resources.CPUs = proj.Resources.CPUs
	}
	if proj.Resources.Memory != "" {
		eff.Resources.Memory = proj.Resources.Memory
	}

	return eff, nil
}

// Layers splits an effective configuration back into a (global, project)
// pair such that Resolve(Layers(e)) == e. Used by the resolution
// idempotence property and by commands that need to re-resolve.
func (e EffectiveConfig) Layers() (GlobalConfig, ProjectConfig) {
	global := GlobalConfig{
		BaseImage: e.BaseImage,
		Resources: e.Resources,
	}
	proj := ProjectConfig{
		Name:        e.ProjectName,
		Profiles:    e.Profiles,
		Mounts:      e.Mounts,
		Environment: e.Environment,
	}
	return global, proj
}

func validateProjectName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return &ValidationError{Field: "project name", Value: name, Reason: "must not be empty"}
	}
	if trimmed != name {
		return &ValidationError{Field: "project name", Value: name, Reason: "must not contain leading or trailing whitespace"}
	}
	if len(name) > maxProjectNameLen {
		return &ValidationError{Field: "project name", Value: name, Reason: "must be at most 40 characters"}
	}
	if !projectNamePattern.MatchString(name) {
		return &ValidationError{
			Field:  "project name",
			Value:  name,
			Reason: "must be lowercase alphanumeric with hyphens or underscores, starting with a letter or digit",
		}
	}
	return nil
}
