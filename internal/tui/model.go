// Package tui is a terminal view over the engine's read contract.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"synapse/cli/internal/graph"
	"synapse/cli/internal/model"
)

// Source is what the view reads from and the few commands it may issue.
type Source interface {
	Snapshot() *model.Snapshot
	Events(limit int) []model.DomainEvent
	Graph() graph.Graph
	Viewport() graph.Viewport
	Connected() bool
	LastError() error
	Status() string
	Workspaces() []model.Workspace
	WorkspaceID() string
	Cursor() int64

	Reconnect()
	SelectWorkspace(id string)
	RefreshWorkspaces()
	Resize(vp graph.Viewport)
}

const (
	eventRows    = 8
	refreshEvery = 100 * time.Millisecond
	// Terminal cells are roughly twice as tall as wide.
	cellWidth  = 8
	cellHeight = 16
)

type refreshMsg time.Time

// Model is the bubbletea model. Every frame re-reads the source.
type Model struct {
	src    Source
	width  int
	height int
	now    func() time.Time

	help     help.Model
	showHelp bool
}

func New(src Source) Model {
	return Model{src: src, help: help.New(), now: time.Now}
}

func (m Model) Init() tea.Cmd {
	return refreshTick()
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Reconnect):
			m.src.Reconnect()
		case key.Matches(msg, keys.Workspace):
			if next, ok := nextWorkspace(m.src.Workspaces(), m.src.WorkspaceID()); ok {
				m.src.SelectWorkspace(next)
			}
		case key.Matches(msg, keys.Refresh):
			m.src.RefreshWorkspaces()
		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if cols, rows := m.graphSize(); cols > 0 && rows > 0 {
			m.src.Resize(graph.Viewport{Width: float64(cols * cellWidth), Height: float64(rows * cellHeight), Margin: 50})
		}
	case refreshMsg:
		return m, refreshTick()
	}
	return m, nil
}

// nextWorkspace cycles through the known workspaces, with the unscoped
// hub state ("") as the stop after the last one.
func nextWorkspace(list []model.Workspace, current string) (string, bool) {
	if len(list) == 0 {
		return "", current != ""
	}
	if current == "" {
		return list[0].ID, true
	}
	for i, w := range list {
		if w.ID == current {
			if i+1 < len(list) {
				return list[i+1].ID, true
			}
			return "", true
		}
	}
	return list[0].ID, true
}

func (m Model) graphSize() (int, int) {
	cols := m.width - 2
	rows := m.height - eventRows - 7
	if m.showHelp {
		rows -= 2
	}
	return cols, rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(m.renderCounts())
	b.WriteByte('\n')
	if cols, rows := m.graphSize(); cols > 4 && rows > 2 {
		b.WriteString(graphBorder.Render(renderGraph(m.src.Graph(), m.src.Viewport(), cols, rows)))
		b.WriteByte('\n')
	}
	b.WriteString(headerStyle.Render("Recent events"))
	b.WriteByte('\n')
	b.WriteString(m.renderEvents())
	b.WriteByte('\n')
	if m.showHelp {
		b.WriteString(m.help.FullHelpView(keys.FullHelp()))
	} else {
		b.WriteString(m.help.ShortHelpView(keys.ShortHelp()))
	}
	return b.String()
}

func (m Model) renderHeader() string {
	state := offlineStyle.Render("● " + m.src.Status())
	if m.src.Connected() {
		state = onlineStyle.Render("● connected")
	}
	ws := m.src.WorkspaceID()
	if ws == "" {
		ws = "(default)"
	}
	line := fmt.Sprintf("%s %s  workspace %s  cursor %d",
		titleStyle.Render("synapse"), state, ws, m.src.Cursor())
	if err := m.src.LastError(); err != nil {
		line += "  " + errorStyle.Render(err.Error())
	}
	return line
}

func (m Model) renderCounts() string {
	snap := m.src.Snapshot()
	if snap == nil {
		return dimStyle.Render("waiting for first snapshot")
	}
	online := 0
	for _, a := range snap.Agents {
		if a.Online {
			online++
		}
	}
	text := fmt.Sprintf("agents %d/%d  locks %d  open intents %d  files %d",
		online, len(snap.Agents), len(snap.ActiveLocks(m.now())), len(snap.OpenIntents()), len(snap.Files))
	if snap.Target != nil && *snap.Target != "" {
		text += "  target " + *snap.Target
	}
	return text
}

func (m Model) renderEvents() string {
	evts := m.src.Events(eventRows)
	if len(evts) == 0 {
		return dimStyle.Render("no events yet")
	}
	lines := make([]string, 0, len(evts))
	for i := len(evts) - 1; i >= 0; i-- {
		lines = append(lines, formatEvent(evts[i]))
	}
	return strings.Join(lines, "\n")
}

func formatEvent(e model.DomainEvent) string {
	who := e.AgentID
	if e.System() {
		who = "system"
	}
	ts := dimStyle.Render(e.Timestamp.Time.Format("15:04:05"))
	line := fmt.Sprintf("%s %-18s %s", ts, e.Type, who)
	if e.Path != "" {
		line += " " + e.Path
	}
	return line
}

func renderGraph(g graph.Graph, vp graph.Viewport, cols, rows int) string {
	grid := Rasterize(g, vp, cols, rows)
	var b strings.Builder
	for i, row := range grid {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, cell := range row {
			if cell.Glyph == ' ' {
				b.WriteByte(' ')
				continue
			}
			b.WriteString(cellStyle(cell).Render(string(cell.Glyph)))
		}
	}
	return b.String()
}
