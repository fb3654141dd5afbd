package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/persevere/state"
)

const timeLayout = "2006-01-02 15:04:05"

// StatusModel shows one transfer's state file with a progress bar.
type StatusModel struct {
	summary  *state.Summary
	bar      progress.Model
	width    int
	quitting bool
}

// NewStatusModel creates a status model. data must be a *state.Summary.
func NewStatusModel(data any) StatusModel {
	s, _ := data.(*state.Summary)
	return StatusModel{
		summary: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-24, 10), 60)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}
	if m.summary == nil {
		return "Invalid data type for status"
	}
	s := m.summary

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Transfer %s", s.TransferID)))
	b.WriteString("\n\n")

	row := func(label, value string, style lipgloss.Style) {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(label), style.Render(value)))
	}
	row("Direction:", string(s.Direction), ValueStyle)
	row("Phase:", string(s.Phase), PhaseStyle(string(s.Phase)))
	row("Remote:", fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key), ValueStyle)
	row("Local:", s.LocalPath, ValueStyle)
	row("Size:", fmt.Sprintf("%s in %d parts of %s",
		humanize.IBytes(s.ObjectSize), s.PartCount, humanize.IBytes(s.PartSize)), ValueStyle)
	if s.UploadID != "" {
		row("Upload ID:", s.UploadID, ValueStyle)
	}
	row("Updated:", s.UpdatedAt.Format(timeLayout), ValueStyle)
	if s.Resumable() {
		row("Resumable:", "yes", SuccessStyle)
	} else {
		row("Resumable:", "no", ErrorStyle)
	}

	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(s.Percent / 100))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%d/%d parts, %s of %s\n",
		s.PartsCompleted, s.PartCount,
		humanize.IBytes(s.BytesCompleted), humanize.IBytes(s.ObjectSize)))

	if f := s.Failure; f != nil {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Last Failure"))
		b.WriteString("\n")
		style := WarningStyle
		if f.Kind == state.FailureUnrecoverable {
			style = ErrorStyle
		}
		row("  Kind:", string(f.Kind), style)
		if f.Part != 0 {
			row("  Part:", fmt.Sprintf("%d", f.Part), ValueStyle)
		}
		row("  Message:", f.Message, ValueStyle)
		row("  At:", f.At.Format(timeLayout), ValueStyle)
		if f.RemoteCancelled {
			row("  Remote:", "multipart upload aborted", ValueStyle)
		}
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

// RenderStatusStatic renders the status view without running a program.
func RenderStatusStatic(data any) string {
	model := NewStatusModel(data)
	model.width = 80
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
