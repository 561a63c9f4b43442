// Package tui implements `conduit monitor`, a terminal view of a running
// daemon.
package tui

import "github.com/charmbracelet/lipgloss"

// Theme keeps every color the monitor uses in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusDim     lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Label  lipgloss.Style
	Dim    lipgloss.Style
	Warn   lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusDim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Label: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// stateStyle picks the color for a bridge state name.
func (t Theme) stateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return t.StatusOK
	case "starting", "stopping":
		return t.StatusRunning
	case "":
		return t.StatusDim
	default:
		return t.StatusFailed
	}
}
