package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit      key.Binding
	Reconnect key.Binding
	Workspace key.Binding
	Refresh   key.Binding
	Help      key.Binding
}

var keys = keyMap{
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Reconnect: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reconnect")),
	Workspace: key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "next workspace")),
	Refresh:   key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "reload workspaces")),
	Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Reconnect, k.Workspace, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Reconnect, k.Workspace, k.Refresh},
		{k.Help, k.Quit},
	}
}
