package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/spotlight/coordinator"
)

// maxHistory bounds the outcome list shown under the current screen.
const maxHistory = 8

// StateMsg carries a new view state from the engine.
type StateMsg coordinator.State

// OutcomeMsg carries a finished navigation.
type OutcomeMsg coordinator.VisitOutcome

// DoneMsg ends the watch once the navigation sequence has been replayed.
type DoneMsg struct {
	Err error
}

// WatchModel follows a running engine: the visible screen state plus the
// most recent visit outcomes.
type WatchModel struct {
	title    string
	state    coordinator.State
	history  []coordinator.VisitOutcome
	spinner  spinner.Model
	done     bool
	err      error
	quitting bool
}

// NewWatchModel creates a watch model. title is shown in the header.
func NewWatchModel(title string) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = WarningStyle
	return WatchModel{
		title:   title,
		state:   coordinator.State{Phase: coordinator.PhaseIdle},
		spinner: s,
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	case StateMsg:
		m.state = coordinator.State(msg)
	case OutcomeMsg:
		m.history = append([]coordinator.VisitOutcome{coordinator.VisitOutcome(msg)}, m.history...)
		if len(m.history) > maxHistory {
			m.history = m.history[:maxHistory]
		}
	case DoneMsg:
		m.done = true
		m.err = msg.Err
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	phase := string(m.state.Phase)
	indicator := "  "
	if m.state.Phase == coordinator.PhaseTransitioning || m.state.Phase == coordinator.PhaseAwaiting {
		indicator = m.spinner.View() + " "
	}
	screen := m.state.Screen
	if screen == "" {
		screen = "-"
	}

	var cur strings.Builder
	fmt.Fprintf(&cur, "%s %s\n", LabelStyle.Render("Screen:"), ValueStyle.Render(screen))
	fmt.Fprintf(&cur, "%s %s%s\n", LabelStyle.Render("Phase:"), indicator, PhaseStyle(phase).Render(phase))
	fmt.Fprintf(&cur, "%s %d\n", LabelStyle.Render("Transition:"), m.state.Transition)
	if m.state.Source != coordinator.SourceNone {
		fmt.Fprintf(&cur, "%s %s\n", LabelStyle.Render("Source:"), ValueStyle.Render(string(m.state.Source)))
	}
	fmt.Fprintf(&cur, "%s %d\n", LabelStyle.Render("Campaigns:"), len(m.state.Campaigns))
	for _, c := range m.state.Campaigns {
		fmt.Fprintf(&cur, "  %s %s\n", MutedStyle.Render(string(c.Type)), ValueStyle.Render(c.ID))
	}
	b.WriteString(BoxStyle.Render(strings.TrimRight(cur.String(), "\n")))
	b.WriteString("\n")

	if len(m.history) > 0 {
		b.WriteString(LabelStyle.Bold(true).Render("Recent visits"))
		b.WriteString("\n")
		for _, o := range m.history {
			line := fmt.Sprintf("  #%-4d %-16s %s %s",
				o.Transition, o.Screen,
				PhaseStyle(string(o.Phase)).Width(18).Render(string(o.Phase)),
				MutedStyle.Render(o.Duration.Round(time.Millisecond).String()))
			if o.Err != nil {
				line += " " + ErrorStyle.Render(o.Err.Error())
			}
			b.WriteString(line + "\n")
		}
	}

	switch {
	case m.err != nil:
		b.WriteString(ErrorStyle.Render("stopped: " + m.err.Error()))
		b.WriteString("\n")
	case m.done:
		b.WriteString(SuccessStyle.Render("navigation sequence finished"))
		b.WriteString("\n")
	}
	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}
