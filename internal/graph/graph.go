// Package graph derives the collaboration graph from mirrored hub state and
// lays it out with a force-directed step.
package graph

import (
	"math"
	"math/rand/v2"
	"path"
	"sort"
	"unicode/utf8"

	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
)

type NodeKind string

const (
	NodeAgent    NodeKind = "agent"
	NodeResource NodeKind = "resource"
	NodeWorkItem NodeKind = "work-item"
)

type EdgeKind string

const (
	EdgeHoldsLock        EdgeKind = "holds-lock"
	EdgePursuesIntent    EdgeKind = "pursues-intent"
	EdgeRecentlyModified EdgeKind = "recently-modified"
)

const (
	resourceEventWindow = 20
	modifiedEventWindow = 10
	workLabelRunes      = 20
	workJitter          = 25.0
)

type Node struct {
	ID    string   `json:"id"`
	Kind  NodeKind `json:"kind"`
	Label string   `json:"label"`
	Color string   `json:"color"`
	Size  float64  `json:"size"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	VX    float64  `json:"vx"`
	VY    float64  `json:"vy"`
	// Ref is the source entity id (agent id, resource path or intent id).
	Ref   string `json:"ref"`
	Pulse bool   `json:"pulse"`
}

type Edge struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Kind     EdgeKind `json:"kind"`
	Animated bool     `json:"animated"`
}

// Graph is a detached view; mutating it does not affect the Model.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (g Graph) Node(id string) (Node, bool) {
	i := sort.Search(len(g.Nodes), func(i int) bool { return g.Nodes[i].ID >= id })
	if i < len(g.Nodes) && g.Nodes[i].ID == id {
		return g.Nodes[i], true
	}
	return Node{}, false
}

func AgentNodeID(agentID string) string { return "agent:" + agentID }
func ResourceNodeID(p string) string    { return "resource:" + p }
func WorkNodeID(intentID string) string { return "work:" + intentID }

type Options struct {
	Viewport Viewport
	Compact  bool
	// Jitter returns values in [0,1). Defaults to a seeded PCG source.
	Jitter func() float64
	Seed   uint64
}

// Model owns the node and edge sets. It only reads the snapshot and events
// it is given.
type Model struct {
	viewport Viewport
	compact  bool
	jitter   func() float64

	nodes []Node
	index map[string]int
	edges []Edge
}

func NewModel(opts Options) *Model {
	vp := opts.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = DefaultViewport()
	}
	jitter := opts.Jitter
	if jitter == nil {
		r := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
		jitter = r.Float64
	}
	return &Model{
		viewport: vp,
		compact:  opts.Compact,
		jitter:   jitter,
		index:    map[string]int{},
	}
}

func (m *Model) Viewport() Viewport {
	return m.viewport
}

// Derive recomputes nodes and edges from snap and the recent events
// (oldest first). Nodes that survive keep their position and velocity.
func (m *Model) Derive(snap *model.Snapshot, events []model.DomainEvent) {
	if snap == nil {
		snap = model.Empty()
	}
	prev := m.index
	prevNodes := m.nodes
	lookup := func(id string) (Node, bool) {
		if i, ok := prev[id]; ok {
			return prevNodes[i], true
		}
		return Node{}, false
	}

	cx, cy := m.viewport.Center()
	short := math.Min(m.viewport.Width, m.viewport.Height)
	next := make([]Node, 0, len(prevNodes))
	placed := map[string]int{}
	add := func(n Node) {
		if _, dup := placed[n.ID]; dup {
			return
		}
		placed[n.ID] = len(next)
		next = append(next, n)
	}

	latest := map[string]bool{}
	if len(events) > 0 {
		for _, p := range events[len(events)-1].TouchedPaths() {
			latest[p] = true
		}
	}

	for i, a := range snap.Agents {
		n := Node{
			ID:    AgentNodeID(a.ID),
			Kind:  NodeAgent,
			Label: a.Name,
			Color: RoleColor(a.Role),
			Size:  m.size(30, 20),
			Ref:   a.ID,
			Pulse: a.Online,
		}
		if old, ok := lookup(n.ID); ok {
			n.X, n.Y, n.VX, n.VY = old.X, old.Y, old.VX, old.VY
		} else {
			angle := float64(i) / float64(max(len(snap.Agents), 1)) * 2 * math.Pi
			n.X = cx + math.Cos(angle)*short*0.3
			n.Y = cy + math.Sin(angle)*short*0.3
		}
		add(n)
	}

	paths := resourcePaths(snap, events)
	for i, p := range paths {
		n := Node{
			ID:    ResourceNodeID(p),
			Kind:  NodeResource,
			Label: resourceLabel(p),
			Color: ColorResource,
			Size:  m.size(18, 12),
			Ref:   p,
			Pulse: latest[p],
		}
		if old, ok := lookup(n.ID); ok {
			n.X, n.Y, n.VX, n.VY = old.X, old.Y, old.VX, old.VY
		} else {
			angle := float64(i)/float64(len(paths))*2*math.Pi + math.Pi/4
			n.X = cx + math.Cos(angle)*short*0.15
			n.Y = cy + math.Sin(angle)*short*0.15
		}
		add(n)
	}

	for _, in := range snap.Intents {
		if !in.Status.Open() {
			continue
		}
		n := Node{
			ID:    WorkNodeID(in.ID),
			Kind:  NodeWorkItem,
			Label: workLabel(in),
			Color: ColorWork,
			Size:  m.size(12, 8),
			Ref:   in.ID,
			Pulse: true,
		}
		if old, ok := lookup(n.ID); ok {
			n.X, n.Y, n.VX, n.VY = old.X, old.Y, old.VX, old.VY
		} else {
			bx, by := cx, cy
			if i, ok := placed[AgentNodeID(in.AgentID)]; ok {
				bx, by = next[i].X, next[i].Y
			}
			n.X = bx + (m.jitter()-0.5)*2*workJitter
			n.Y = by + (m.jitter()-0.5)*2*workJitter
		}
		add(n)
	}

	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	index := make(map[string]int, len(next))
	for i, n := range next {
		index[n.ID] = i
	}
	m.nodes = next
	m.index = index
	m.edges = deriveEdges(snap, events, index, latest)
}

func deriveEdges(snap *model.Snapshot, events []model.DomainEvent, nodes map[string]int, latest map[string]bool) []Edge {
	var edges []Edge
	seen := map[string]bool{}
	add := func(e Edge) {
		if seen[e.ID] {
			return
		}
		if _, ok := nodes[e.Source]; !ok {
			return
		}
		if _, ok := nodes[e.Target]; !ok {
			return
		}
		seen[e.ID] = true
		edges = append(edges, e)
	}

	for _, l := range snap.Locks {
		add(Edge{
			ID:       "lock:" + l.ID,
			Source:   AgentNodeID(l.AgentID),
			Target:   ResourceNodeID(l.TargetPath),
			Kind:     EdgeHoldsLock,
			Animated: latest[l.TargetPath],
		})
	}

	for _, in := range snap.Intents {
		if in.Status != model.IntentActive {
			continue
		}
		work := WorkNodeID(in.ID)
		add(Edge{
			ID:       "intent:" + in.ID,
			Source:   AgentNodeID(in.AgentID),
			Target:   work,
			Kind:     EdgePursuesIntent,
			Animated: true,
		})
		for _, target := range in.Targets {
			add(Edge{
				ID:       "intent:" + in.ID + ":" + target,
				Source:   work,
				Target:   ResourceNodeID(target),
				Kind:     EdgePursuesIntent,
				Animated: true,
			})
		}
	}

	for _, evt := range tail(events, modifiedEventWindow) {
		if evt.Type != string(protocol.KindFileModified) || evt.AgentID == "" || evt.Path == "" {
			continue
		}
		add(Edge{
			ID:       "modified:" + evt.ID,
			Source:   AgentNodeID(evt.AgentID),
			Target:   ResourceNodeID(evt.Path),
			Kind:     EdgeRecentlyModified,
			Animated: true,
		})
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges
}

// resourcePaths returns locked paths and paths of the recent events, in
// first-seen order.
func resourcePaths(snap *model.Snapshot, events []model.DomainEvent) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range snap.Locks {
		if l.TargetPath != "" && !seen[l.TargetPath] {
			seen[l.TargetPath] = true
			out = append(out, l.TargetPath)
		}
	}
	for _, evt := range tail(events, resourceEventWindow) {
		for _, p := range evt.TouchedPaths() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func tail(events []model.DomainEvent, n int) []model.DomainEvent {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

func resourceLabel(p string) string {
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return p
	}
	return base
}

func workLabel(in model.Intent) string {
	label := in.Action
	if label == "" {
		label = in.Description
	}
	if utf8.RuneCountInString(label) <= workLabelRunes {
		return label
	}
	return string([]rune(label)[:workLabelRunes])
}

func (m *Model) size(normal, compact float64) float64 {
	if m.compact {
		return compact
	}
	return normal
}

// Graph returns a copy of the current nodes and edges, sorted by id.
func (m *Model) Graph() Graph {
	return Graph{
		Nodes: append([]Node{}, m.nodes...),
		Edges: append([]Edge{}, m.edges...),
	}
}

// Tick advances the layout by one simulator step.
func (m *Model) Tick(sim *Simulator) {
	sim.Tick(m.nodes, m.edges, m.index, m.viewport)
}

// Len is the number of nodes.
func (m *Model) Len() int {
	return len(m.nodes)
}

// Resize changes the viewport and pulls every node back inside it.
func (m *Model) Resize(vp Viewport) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return
	}
	m.viewport = vp
	for i := range m.nodes {
		vp.clamp(&m.nodes[i])
	}
}
