// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownProfile is the sentinel error wrapped by UnknownProfileError.
	ErrUnknownProfile = errors.New("unknown profile")
	// ErrUnknownVersion is the sentinel error wrapped by UnknownVersionError.
	ErrUnknownVersion = errors.New("unknown profile version")
	// ErrInvalidRef is the sentinel error wrapped by InvalidRefError.
	ErrInvalidRef = errors.New("invalid profile reference")
)

type (
	// Definition describes one language or tool environment: the versions it
	// supports and the ordered image-layer instructions that install it.
	// Definitions are immutable once loaded; identity is the name.
	Definition struct {
		Name           string   `yaml:"name"`
		Description    string   `yaml:"description"`
		Versions       []string `yaml:"versions"`
		DefaultVersion string   `yaml:"default_version"`
		// SystemPackages are apt packages installed before the layers run.
		SystemPackages []string `yaml:"system_packages"`
		// Layers are ordered Dockerfile instructions. The literal ${VERSION}
		// placeholder is substituted with the chosen version at compile time.
		Layers []string `yaml:"layers"`
		// Verify is a shell command that must succeed in the built image.
		Verify string `yaml:"verify"`

		// contentHash is a digest of the raw definition document, folded
		// into build-plan fingerprints so editing a definition invalidates
		// cached images built from it.
		contentHash string
	}

	// Ref is a parsed "name[:version]" profile reference. An empty Version
	// means the definition's default.
	Ref struct {
		Name    string
		Version string
	}

	// Layer is one compiled image-build instruction attributed to the
	// profile and version that produced it.
	Layer struct {
		Profile     string
		Version     string
		Instruction string
	}

	// BuildPlan is the ordered, fingerprinted sequence of image layers
	// compiled from a profile list. Plans with equal fingerprints are
	// interchangeable: same base image, byte-identical layer sequence.
	BuildPlan struct {
		BaseImage   string
		Layers      []Layer
		Fingerprint string
	}

	// UnknownProfileError reports a reference to an unregistered profile.
	UnknownProfileError struct {
		Name      string
		Available []string
	}

	// UnknownVersionError reports a version outside a definition's
	// supported set.
	UnknownVersionError struct {
		Profile   string
		Version   string
		Available []string
	}

	// InvalidRefError reports a malformed "name[:version]" reference.
	InvalidRefError struct {
		Ref    string
		Reason string
	}
)

// ContentHash returns the digest of the raw definition document.
func (d Definition) ContentHash() string { return d.contentHash }

// ResolveVersion picks the version for a reference: the requested one if
// supported, the default when the request is empty.
func (d Definition) ResolveVersion(requested string) (string, error) {
	if requested == "" {
		return d.DefaultVersion, nil
	}
	for _, v := range d.Versions {
		if v == requested {
			return v, nil
		}
	}
	return "", &UnknownVersionError{Profile: d.Name, Version: requested, Available: d.Versions}
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("profile %q is not registered (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownProfileError) Unwrap() error { return ErrUnknownProfile }

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("profile %q has no version %q (available: %s)", e.Profile, e.Version, strings.Join(e.Available, ", "))
}

func (e *UnknownVersionError) Unwrap() error { return ErrUnknownVersion }

func (e *InvalidRefError) Error() string {
	return fmt.Sprintf("profile reference %q: %s", e.Ref, e.Reason)
}

func (e *InvalidRefError) Unwrap() error { return ErrInvalidRef }

// ShortFingerprint returns the 12-digit prefix used in image tags.
func (p *BuildPlan) ShortFingerprint() string {
	if len(p.Fingerprint) < 12 {
		return p.Fingerprint
	}
	return p.Fingerprint[:12]
}
