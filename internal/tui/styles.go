package tui

import (
	"github.com/charmbracelet/lipgloss"

	"synapse/cli/internal/graph"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1")).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8"))

	graphBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#313244"))
)

var colorClasses = map[string]lipgloss.Color{
	graph.ColorBlue:     lipgloss.Color("#3B82F6"),
	graph.ColorPurple:   lipgloss.Color("#A855F7"),
	graph.ColorGreen:    lipgloss.Color("#22C55E"),
	graph.ColorAmber:    lipgloss.Color("#F59E0B"),
	graph.ColorGray:     lipgloss.Color("#9CA3AF"),
	graph.ColorResource: lipgloss.Color("#64748B"),
	graph.ColorWork:     lipgloss.Color("#EC4899"),
}

func cellStyle(c Cell) lipgloss.Style {
	if c.Node == "" {
		return dimStyle
	}
	if fg, ok := colorClasses[c.Color]; ok {
		return lipgloss.NewStyle().Foreground(fg).Bold(true)
	}
	return lipgloss.NewStyle()
}
