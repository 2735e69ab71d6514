package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/spotlight/journal"
)

// InspectModel is a Bubble Tea model listing journal visit records.
type InspectModel struct {
	viewType string
	visits   []journal.VisitRecord
	table    table.Model
	err      string
	quitting bool
}

var visitColumns = []table.Column{
	{Title: "Time", Width: 20},
	{Title: "Screen", Width: 16},
	{Title: "#", Width: 5},
	{Title: "Phase", Width: 17},
	{Title: "Outcome", Width: 16},
	{Title: "Source", Width: 9},
	{Title: "Camp.", Width: 5},
	{Title: "ms", Width: 6},
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	m := InspectModel{viewType: viewType}
	visits, ok := data.([]journal.VisitRecord)
	if viewType != ViewInspectVisits || !ok {
		m.err = fmt.Sprintf("Invalid data type for %s", viewType)
		return m
	}
	m.visits = visits

	rows := make([]table.Row, 0, len(visits))
	for _, v := range visits {
		rows = append(rows, table.Row{
			v.Timestamp.Format("2006-01-02 15:04:05"),
			v.Screen,
			strconv.FormatUint(v.Transition, 10),
			v.Phase,
			v.FetchOutcome,
			v.Source,
			strconv.Itoa(v.Campaigns),
			strconv.FormatInt(v.DurationMs, 10),
		})
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(primaryColor).Bold(true)
	styles.Selected = styles.Selected.Foreground(highlightColor)

	m.table = table.New(
		table.WithColumns(visitColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 20)),
		table.WithStyles(styles),
	)
	return m
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != "" {
		return m.err
	}

	out := TitleStyle.Render(fmt.Sprintf("Visits (%d)", len(m.visits))) + "\n" + m.table.View()
	if row := m.table.Cursor(); row >= 0 && row < len(m.visits) {
		if e := m.visits[row].Error; e != "" {
			out += "\n" + ErrorStyle.Render(e)
		}
	}
	return out + "\n" + HelpStyle.Render("↑/↓ to move, q or Ctrl+C to quit")
}
