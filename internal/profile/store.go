// SPDX-License-Identifier: MPL-2.0

// Package profile compiles declarative profile definitions into ordered,
// fingerprinted image build plans. Definitions are built into the binary;
// the Store is constructed once at process start and injected into the
// Compiler so tests can substitute fake tables.
package profile

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var definitionFS embed.FS

// Store is the profile definition lookup table.
type Store struct {
	defs  map[string]Definition
	names []string
}

// NewStore loads the built-in definitions compiled into the binary.
func NewStore() (*Store, error) {
	entries, err := definitionFS.ReadDir("definitions")
	if err != nil {
		return nil, fmt.Errorf("read embedded definitions: %w", err)
	}

	s := &Store{defs: make(map[string]Definition, len(entries))}
	for _, entry := range entries {
		data, err := definitionFS.ReadFile("definitions/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read definition %s: %w", entry.Name(), err)
		}
		def, err := parseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", entry.Name(), err)
		}
		if _, dup := s.defs[def.Name]; dup {
			return nil, fmt.Errorf("definition %s: duplicate profile name %q", entry.Name(), def.Name)
		}
		s.defs[def.Name] = def
		s.names = append(s.names, def.Name)
	}
	slices.Sort(s.names)

	return s, nil
}

// NewStoreFrom builds a Store from explicit definitions. Used by tests.
func NewStoreFrom(defs ...Definition) *Store {
	s := &Store{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		if def.contentHash == "" {
			sum := sha256.Sum256([]byte(def.Name + "\x00" + strings.Join(def.Layers, "\x00")))
			def.contentHash = hex.EncodeToString(sum[:])
		}
		s.defs[def.Name] = def
		s.names = append(s.names, def.Name)
	}
	slices.Sort(s.names)
	return s
}

// Get returns the definition registered under name.
func (s *Store) Get(name string) (Definition, bool) {
	def, ok := s.defs[name]
	return def, ok
}

// Names returns the sorted names of all registered definitions.
func (s *Store) Names() []string {
	return slices.Clone(s.names)
}

// List returns all definitions sorted by name.
func (s *Store) List() []Definition {
	out := make([]Definition, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.defs[name])
	}
	return out
}

func parseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse: %w", err)
	}

	if def.Name == "" {
		return Definition{}, fmt.Errorf("missing name")
	}
	if len(def.Versions) == 0 {
		return Definition{}, fmt.Errorf("profile %q: at least one version is required", def.Name)
	}
	if !slices.Contains(def.Versions, def.DefaultVersion) {
		return Definition{}, fmt.Errorf("profile %q: default version %q is not in the supported set", def.Name, def.DefaultVersion)
	}
	if len(def.Layers) == 0 && len(def.SystemPackages) == 0 {
		return Definition{}, fmt.Errorf("profile %q: no layers or system packages", def.Name)
	}

	sum := sha256.Sum256(data)
	def.contentHash = hex.EncodeToString(sum[:])

	return def, nil
}
