package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// View types that support --tui.
const (
	ViewStatsSummary  = "stats_summary"
	ViewStatsMetrics  = "stats_metrics"
	ViewInspectVisits = "inspect_visits"
)

// Run starts the TUI for a read-only view.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	var model tea.Model
	switch {
	case strings.HasPrefix(viewType, "inspect_"):
		model = NewInspectModel(viewType, data)
	default:
		model = NewStatsModel(viewType, data)
	}
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	for _, v := range SupportedTUIViews() {
		if v == viewType {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewStatsSummary, ViewStatsMetrics, ViewInspectVisits}
}

// RenderStatic renders a read-only view once, without a program.
func RenderStatic(viewType string, data any) string {
	var view string
	if strings.HasPrefix(viewType, "inspect_") {
		view = NewInspectModel(viewType, data).View()
	} else {
		view = NewStatsModel(viewType, data).View()
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(view)
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func fmtInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
