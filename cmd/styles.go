// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Color palette - shared hex colors for consistent theming across all CLI
// output, chosen for dark terminal backgrounds.
const (
	// ColorPrimary is purple - titles, headers, primary emphasis.
	ColorPrimary = lipgloss.Color("#7C3AED")

	// ColorMuted is gray - subtitles and de-emphasized content.
	ColorMuted = lipgloss.Color("#6B7280")

	// ColorSuccess is green - success states and running slots.
	ColorSuccess = lipgloss.Color("#10B981")

	// ColorError is red - errors and failure states.
	ColorError = lipgloss.Color("#EF4444")

	// ColorWarning is amber - warnings and stopped slots.
	ColorWarning = lipgloss.Color("#F59E0B")

	// ColorHighlight is blue - commands, provider names, interactive elements.
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and the running state.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warnings and the stopped state.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for command and provider names.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)
)

// statusStyle picks the style for a slot status cell.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "running":
		return SuccessStyle
	case "stopped":
		return WarningStyle
	default:
		return SubtitleStyle
	}
}
