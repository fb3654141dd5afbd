package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/persevere/journal"
)

// HistoryModel lists the latest journal record of each transfer.
type HistoryModel struct {
	records  []journal.Record
	table    table.Model
	quitting bool
}

var historyColumns = []table.Column{
	{Title: "Transfer", Width: 36},
	{Title: "Dir", Width: 8},
	{Title: "Event", Width: 11},
	{Title: "Object", Width: 32},
	{Title: "Parts", Width: 11},
	{Title: "Size", Width: 10},
	{Title: "When", Width: 19},
}

// NewHistoryModel creates a history model. data must be a []journal.Record.
func NewHistoryModel(data any) HistoryModel {
	records, _ := data.([]journal.Record)

	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, historyRow(r))
	}

	t := table.New(
		table.WithColumns(historyColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithWidth(historyWidth()),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(primaryColor)
	t.SetStyles(styles)
	t.SetHeight(min(max(len(rows), 1), 20) + lipgloss.Height(styles.Header.Render("x")))

	return HistoryModel{records: records, table: t}
}

func historyWidth() int {
	w := 0
	for _, c := range historyColumns {
		w += c.Width + 2
	}
	return w
}

func historyRow(r journal.Record) table.Row {
	return table.Row{
		r.TransferID,
		string(r.Direction),
		string(r.Event),
		fmt.Sprintf("%s/%s", r.Bucket, r.Key),
		fmt.Sprintf("%d/%d", r.PartsCompleted, r.PartCount),
		humanize.IBytes(r.ObjectSize),
		r.Ts.Local().Format(timeLayout),
	}
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}

	title := TitleStyle.Render("Transfer History")
	if len(m.records) == 0 {
		return title + "\n" + ValueStyle.Render("(no transfers)") + "\n" + HelpStyle.Render("Press q to quit")
	}

	detail := ""
	if i := m.table.Cursor(); i >= 0 && i < len(m.records) {
		r := m.records[i]
		detail = PhaseStyle(string(r.Event)).Render(string(r.Event))
		if r.Outcome != "" {
			detail += " " + PhaseStyle(string(r.Outcome)).Render(string(r.Outcome))
		}
		if r.Message != "" {
			detail += ": " + r.Message
		}
	}

	help := HelpStyle.Render("↑/↓ to move, q to quit")
	return title + "\n" + BoxStyle.Render(m.table.View()) + "\n" + detail + "\n" + help
}
