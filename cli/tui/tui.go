package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// View types with a TUI.
const (
	ViewStatus  = "status"
	ViewHistory = "history"
)

// Run starts the TUI for viewType.
func Run(viewType string, data any) error {
	var model tea.Model
	switch viewType {
	case ViewStatus:
		model = NewStatusModel(data)
	case ViewHistory:
		model = NewHistoryModel(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only read-only views do.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewStatus, ViewHistory}
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
