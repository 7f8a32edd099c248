// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for agentbox.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"agentbox-cli/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "agentbox",
		Short: "Disposable agent workspaces in containers",
		Long: TitleStyle.Render("agentbox") + SubtitleStyle.Render(" - disposable agent workspaces in containers") + `

agentbox provisions reusable development containers and runs an AI
agent CLI (claude, gemini, codex) inside them. Each project gets
numbered slots; a slot keeps its container and login state between
sessions, so the second start is instant.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Run 'agentbox init' in your project to write a config
  2. Start a session with: agentbox start claude
  3. Exit the agent; the slot stays stopped for reuse

` + SubtitleStyle.Render("Examples:") + `
  agentbox start claude             Start claude in the first free slot
  agentbox start codex --slot 2     Start codex in slot 2
  agentbox list                     Show this project's slots
  agentbox cleanup --all            Remove every slot and container`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(profilesCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(issue.ExitCodeFor(err))
	}
}

// reportError converts err into an ExitError carrying the stage's exit
// code and the user-facing message, so fang prints it exactly once and
// Execute exits with the right status.
func reportError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: issue.ExitCodeFor(err), Err: err}
}
