// SPDX-License-Identifier: MPL-2.0

// Package provider describes the agent CLIs agentbox can run inside a
// slot container. The set is closed: each provider is a capability record
// stating how it is installed, how it authenticates, and where it keeps
// credentials. New providers are added here, not configured at runtime.
package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownProvider is the sentinel error wrapped by UnknownProviderError.
var ErrUnknownProvider = errors.New("unknown provider")

type (
	// Provider is the capability record of one agent CLI.
	Provider struct {
		// Name is the identifier used in commands and slot records.
		Name string
		// DisplayName is the human-readable product name.
		DisplayName string
		// ExtraProfiles are profile references appended after the
		// project's profiles, in order, so the CLI and its runtime end
		// up in the image.
		ExtraProfiles []string
		// CLICommand launches the agent inside the slot container.
		CLICommand []string
		// RequiredEnvVars are host environment variables forwarded into
		// the container when set; the first one present satisfies
		// API-key auth.
		RequiredEnvVars []string
		// CredentialPaths are in-container paths (under the agent
		// user's home) holding session state, mounted from the slot's
		// credential directory so logins survive container recreation.
		CredentialPaths []string
		// RequiresOAuth marks providers whose login runs a localhost
		// OAuth callback flow and therefore needs the ephemeral
		// host-network helper container.
		RequiresOAuth bool
		// OAuthCallbackPort is the localhost port the login flow
		// listens on. Zero when RequiresOAuth is false.
		OAuthCallbackPort int
		// LoginCommand runs the interactive login inside the helper.
		LoginCommand []string
	}

	// UnknownProviderError reports a request for a provider outside the
	// closed set.
	UnknownProviderError struct {
		Name      string
		Available []string
	}

	// Registry is the provider lookup table, built once at startup and
	// injected so tests can substitute a reduced set.
	Registry struct {
		providers map[string]Provider
		names     []string
	}
)

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q is not supported (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownProviderError) Unwrap() error { return ErrUnknownProvider }

// NewRegistry builds a Registry from explicit providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	sort.Strings(r.names)
	return r
}

// Builtin returns the registry of supported providers.
func Builtin() *Registry {
	return NewRegistry(
		Provider{
			Name:            "claude",
			DisplayName:     "Claude Code",
			ExtraProfiles:   []string{"nodejs", "claude"},
			CLICommand:      []string{"claude"},
			RequiredEnvVars: []string{"ANTHROPIC_API_KEY"},
			CredentialPaths: []string{".claude", ".claude.json"},
		},
		Provider{
			Name:            "gemini",
			DisplayName:     "Gemini CLI",
			ExtraProfiles:   []string{"nodejs", "gemini"},
			CLICommand:      []string{"gemini"},
			RequiredEnvVars: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
			CredentialPaths: []string{".gemini"},
		},
		Provider{
			Name:              "codex",
			DisplayName:       "Codex CLI",
			ExtraProfiles:     []string{"nodejs", "codex"},
			CLICommand:        []string{"codex"},
			RequiredEnvVars:   []string{"OPENAI_API_KEY"},
			CredentialPaths:   []string{".codex"},
			RequiresOAuth:     true,
			OAuthCallbackPort: 1455,
			LoginCommand:      []string{"codex", "login"},
		},
	)
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, &UnknownProviderError{Name: name, Available: r.names}
	}
	return p, nil
}

// Names returns the sorted provider names.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}
