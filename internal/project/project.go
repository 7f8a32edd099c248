// SPDX-License-Identifier: MPL-2.0

// Package project derives stable project identities from filesystem paths
// and lays out the per-project storage tree under the agentbox home
// directory. Two differently-located clones never collide because the
// identity folds in a digest of the absolute path; the same path always
// resolves to the same identity across invocations.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// hashLen is the number of hex digits of the path digest kept in the
// identity. Eight digits is enough to separate clones while keeping
// container and directory names readable.
const hashLen = 8

type (
	// Identity is the stable identifier of a project directory: the
	// directory's base name plus a fixed-width digest of its absolute path.
	Identity struct {
		// Name is the base name of the project directory, reduced to
		// characters valid in container and directory names.
		Name string
		// Hash is the first 8 hex digits of sha256(absolute path).
		Hash string
	}

	// Paths resolves locations inside the agentbox home directory
	// (~/.agentbox by default). All per-project state is namespaced by the
	// project identity's storage name.
	Paths struct {
		// Root is the agentbox home directory.
		Root string
	}
)

// Identify derives the Identity for the project at dir. The path is made
// absolute first so relative invocations resolve to the same identity.
func Identify(dir string) (Identity, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Identity{}, fmt.Errorf("resolve project path %s: %w", dir, err)
	}

	sum := sha256.Sum256([]byte(abs))
	return Identity{
		Name: safeName(filepath.Base(abs)),
		Hash: hex.EncodeToString(sum[:])[:hashLen],
	}, nil
}

// maxNameLen bounds the name's contribution to storage and container
// names; the hash carries the uniqueness.
const maxNameLen = 32

// safeName reduces a directory name to lowercase characters valid in both
// container names and directory names. The digest disambiguates, so lossy
// reduction is fine.
func safeName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-_")
	if len(name) > maxNameLen {
		name = strings.Trim(name[:maxNameLen], "-_")
	}
	if name == "" {
		return "project"
	}
	return name
}

// StorageName returns the directory name used to namespace this project's
// state, in "<name>-<hash>" form.
func (id Identity) StorageName() string {
	return id.Name + "-" + id.Hash
}

// DefaultPaths returns Paths rooted at ~/.agentbox.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return Paths{Root: filepath.Join(home, ".agentbox")}, nil
}

// GlobalConfigPath is the user-wide configuration document.
func (p Paths) GlobalConfigPath() string {
	return filepath.Join(p.Root, "config.yaml")
}

// ImageDBPath is the shared image cache database. Images are intentionally
// reused across projects and providers when profile sets match, so the
// database is user-wide, not per-project.
func (p Paths) ImageDBPath() string {
	return filepath.Join(p.Root, "images.db")
}

// LocksDir holds flock files for cross-process serialization.
func (p Paths) LocksDir() string {
	return filepath.Join(p.Root, "locks")
}

// ProjectDir is the storage directory for one project identity.
func (p Paths) ProjectDir(storageName string) string {
	return filepath.Join(p.Root, "projects", storageName)
}

// ProjectConfigPath is the per-project configuration document.
func (p Paths) ProjectConfigPath(storageName string) string {
	return filepath.Join(p.ProjectDir(storageName), "config.yaml")
}

// SlotsDir holds the slot records for one project.
func (p Paths) SlotsDir(storageName string) string {
	return filepath.Join(p.ProjectDir(storageName), "slots")
}

// SlotDir is the directory for one (project, slot) pair: its metadata record
// and its per-provider credential directories.
func (p Paths) SlotDir(storageName string, slot int) string {
	return filepath.Join(p.SlotsDir(storageName), fmt.Sprintf("slot-%d", slot))
}

// CredentialDir is the persistent credential directory for one provider in
// one slot. Credentials are isolated per slot so two slots never share
// login state.
func (p Paths) CredentialDir(storageName string, slot int, provider string) string {
	return filepath.Join(p.SlotDir(storageName, slot), "credentials", provider)
}

// refFileName is the project-local marker pointing at the storage
// directory. It contains only the storage name, no secrets, so it is safe
// to version-control.
const refFileName = "ref"

// RefPath returns the project-local marker path, <project>/.agentbox/ref.
func RefPath(projectDir string) string {
	return filepath.Join(projectDir, ".agentbox", refFileName)
}

// WriteRef writes the project-local marker file.
func WriteRef(projectDir, storageName string) error {
	path := RefPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(storageName+"\n"), 0o644); err != nil {
		return fmt.Errorf("write marker file: %w", err)
	}
	return nil
}

// ReadRef reads the project-local marker. Returns "" when the marker does
// not exist.
func ReadRef(projectDir string) (string, error) {
	data, err := os.ReadFile(RefPath(projectDir))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read marker file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
