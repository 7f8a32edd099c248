// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// refPattern constrains references to "name" or "name:version".
var refPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(:[a-z0-9][a-z0-9._-]*)?$`)

// Compiler turns profile references into build plans against an injected
// definition store.
type Compiler struct {
	store *Store
}

// NewCompiler creates a Compiler backed by store.
func NewCompiler(store *Store) *Compiler {
	return &Compiler{store: store}
}

// ParseRef parses a "name[:version]" reference.
func ParseRef(ref string) (Ref, error) {
	if !refPattern.MatchString(ref) {
		return Ref{}, &InvalidRefError{Ref: ref, Reason: "must be 'name' or 'name:version', lowercase"}
	}
	name, version, _ := strings.Cut(ref, ":")
	return Ref{Name: name, Version: version}, nil
}

// Compile resolves the project's profile references plus the provider's
// extra references into one ordered build plan.
//
// Canonical ordering makes the fingerprint order-insensitive for set-equal
// requests: project profiles are deduplicated by name and sorted, so two
// requests naming the same set in different order produce byte-identical
// layer sequences. Provider extras keep their declared order (their layers
// depend on each other) and come last, so provider tooling is the layer
// most likely to need rebuilding. A duplicate reference overrides the
// earlier one's version instead of appending a second layer set.
func (c *Compiler) Compile(baseImage string, projectRefs, providerRefs []string) (*BuildPlan, error) {
	if baseImage == "" {
		return nil, fmt.Errorf("base image must not be empty")
	}

	versions := make(map[string]string)
	var projectNames, providerNames []string

	appendGroup := func(refs []string, names *[]string) error {
		for _, raw := range refs {
			ref, err := ParseRef(raw)
			if err != nil {
				return err
			}
			if _, seen := versions[ref.Name]; !seen {
				*names = append(*names, ref.Name)
			}
			// Later duplicates override the chosen version only.
			versions[ref.Name] = ref.Version
		}
		return nil
	}

	if err := appendGroup(projectRefs, &projectNames); err != nil {
		return nil, err
	}
	if err := appendGroup(providerRefs, &providerNames); err != nil {
		return nil, err
	}
	slices.Sort(projectNames)

	plan := &BuildPlan{BaseImage: baseImage}
	h := sha256.New()
	fmt.Fprintf(h, "image:%s\n", baseImage)

	for _, name := range append(projectNames, providerNames...) {
		def, ok := c.store.Get(name)
		if !ok {
			return nil, &UnknownProfileError{Name: name, Available: c.store.Names()}
		}
		version, err := def.ResolveVersion(versions[name])
		if err != nil {
			return nil, err
		}

		for _, instr := range instructionsFor(def, version) {
			plan.Layers = append(plan.Layers, Layer{Profile: name, Version: version, Instruction: instr})
			fmt.Fprintf(h, "layer:%s:%s:%s\n", name, version, instr)
		}
		fmt.Fprintf(h, "def:%s:%s\n", name, def.ContentHash())
	}

	plan.Fingerprint = hex.EncodeToString(h.Sum(nil))
	return plan, nil
}

// instructionsFor expands a definition into concrete Dockerfile
// instructions for the chosen version: system packages first, then the
// declared layers with ${VERSION} substituted, then the verification
// command.
func instructionsFor(def Definition, version string) []string {
	var out []string

	if len(def.SystemPackages) > 0 {
		pkgs := slices.Clone(def.SystemPackages)
		slices.Sort(pkgs)
		out = append(out, fmt.Sprintf(
			"RUN apt-get update && apt-get install -y --no-install-recommends %s && rm -rf /var/lib/apt/lists/*",
			strings.Join(pkgs, " "),
		))
	}

	for _, layer := range def.Layers {
		out = append(out, strings.ReplaceAll(layer, "${VERSION}", version))
	}

	if def.Verify != "" {
		out = append(out, "RUN "+strings.ReplaceAll(def.Verify, "${VERSION}", version))
	}

	return out
}
