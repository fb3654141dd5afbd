// Package tui provides Bubble Tea views for the persevere CLI.
//
// Views are opt-in (--tui) and read-only. They render the same payloads as
// the json, table and yaml output.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SuccessStyle for success states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for warning states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// InfoStyle for active states.
	InfoStyle = lipgloss.NewStyle().
			Foreground(highlightColor)

	// ErrorStyle for error states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// BoxStyle for bordered containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

// PhaseStyle returns a style for a transfer phase or outcome.
func PhaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "success", "completed":
		return SuccessStyle
	case "in_progress", "finalizing", "started", "resumed":
		return InfoStyle
	case "failed_retryable", "retryable_failure", "part_failed", "failed":
		return WarningStyle
	case "failed_unrecoverable", "unrecoverable_failure", "aborted":
		return ErrorStyle
	default:
		return ValueStyle
	}
}
