package engine

import (
	"synapse/cli/internal/graph"
	"synapse/cli/internal/model"
)

// Snapshot returns a copy of the mirrored state, or nil before the first sync.
func (e *Engine) Snapshot() *model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.snapshot.Clone()
}

// Events returns up to limit of the most recent events, oldest first.
// limit <= 0 returns all retained events.
func (e *Engine) Events(limit int) []model.DomainEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	evts := e.pub.events
	if limit > 0 && len(evts) > limit {
		evts = evts[len(evts)-limit:]
	}
	return append([]model.DomainEvent(nil), evts...)
}

func (e *Engine) Graph() graph.Graph {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return graph.Graph{
		Nodes: append([]graph.Node(nil), e.pub.graph.Nodes...),
		Edges: append([]graph.Edge(nil), e.pub.graph.Edges...),
	}
}

func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.connected
}

func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.lastErr
}

func (e *Engine) Status() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.status
}

func (e *Engine) Workspaces() []model.Workspace {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.Workspace(nil), e.pub.workspaces...)
}

func (e *Engine) WorkspaceID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.workspaceID
}

func (e *Engine) Cursor() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.cursor
}

// Viewport is the layout area the graph positions are clamped to.
func (e *Engine) Viewport() graph.Viewport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.viewport
}
