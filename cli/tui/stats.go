package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/spotlight/journal"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{viewType: viewType, data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStatsSummary:
		content = m.renderSummary()
	case ViewStatsMetrics:
		content = m.renderMetrics()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	return content + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
}

func (m StatsModel) renderSummary() string {
	data, ok := m.data.(*journal.Summary)
	if !ok {
		return "Invalid data type for " + ViewStatsSummary
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Delivery Summary"))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Visits", data.Visits, highlightColor),
		renderStatBox("Applied", data.ByPhase["applied"], successColor),
		renderStatBox("Fallback", data.ByPhase["fallback_applied"], warningColor),
		renderStatBox("Retained", data.ByPhase["retained"], errorColor),
	))
	b.WriteString("\n\n")

	screens := make([]string, 0, len(data.Screens))
	for s := range data.Screens {
		screens = append(screens, s)
	}
	sort.Strings(screens)
	for _, s := range screens {
		sum := data.Screens[s]
		fmt.Fprintf(&b, "%s %s %s\n",
			LabelStyle.Render(s),
			ValueStyle.Render(fmt.Sprintf("%d visits", sum.Visits)),
			MutedStyle.Render(fmt.Sprintf("avg %.1f campaigns", sum.AvgCampaigns)))
	}
	fmt.Fprintf(&b, "\n%s %s\n", LabelStyle.Render("Avg duration:"), ValueStyle.Render(fmt.Sprintf("%.1fms", data.AvgDurationMs)))
	return b.String()
}

func (m StatsModel) renderMetrics() string {
	data, ok := m.data.(map[string]any)
	if !ok {
		return "Invalid data type for " + ViewStatsMetrics
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Engine Metrics " + MutedStyle.Render(asString(data["instance_id"]))))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Navigations", asInt(data["navigations"]), highlightColor),
		renderStatBox("Fetches", asInt(data["fetches_started"]), successColor),
		renderStatBox("Stale frames", asInt(data["stale_frames"]), warningColor),
		renderStatBox("Frame errors", asInt(data["frame_errors"]), errorColor),
	))
	b.WriteString("\n\n")
	writeCounts(&b, "Fetch outcomes", data["fetch_outcomes"])
	writeCounts(&b, "Visit outcomes", data["visit_outcomes"])
	return b.String()
}

func writeCounts(b *strings.Builder, title string, v any) {
	var counts map[string]any
	switch c := v.(type) {
	case map[string]any:
		counts = c
	case map[string]int64:
		counts = make(map[string]any, len(c))
		for k, n := range c {
			counts[k] = n
		}
	}
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)

	b.WriteString(LabelStyle.Bold(true).Render(title))
	b.WriteString("\n")
	for _, n := range names {
		fmt.Fprintf(b, "  %s %s\n", PhaseStyle(n).Width(18).Render(n), ValueStyle.Render(fmtInt(asInt(counts[n]))))
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
