package graph

import (
	"reflect"
	"testing"

	"synapse/cli/internal/model"
)

func newTestModel() *Model {
	return NewModel(Options{Viewport: DefaultViewport(), Seed: 7})
}

func lockSnapshot() *model.Snapshot {
	snap := model.Empty()
	snap.Agents = []model.Agent{{ID: "a1", Name: "alpha", Role: model.RoleCoder, Online: true}}
	snap.Locks = []model.Lock{{ID: "L1", AgentID: "a1", TargetPath: "/x"}}
	return snap
}

func TestModel_LockProducesAgentResourceAndEdge(t *testing.T) {
	m := newTestModel()
	m.Derive(lockSnapshot(), nil)
	g := m.Graph()
	if _, ok := g.Node("agent:a1"); !ok {
		t.Fatal("missing agent node")
	}
	res, ok := g.Node("resource:/x")
	if !ok {
		t.Fatal("missing resource node")
	}
	if res.Label != "x" {
		t.Fatalf("expected basename label, got %q", res.Label)
	}
	if len(g.Edges) != 1 || g.Edges[0].Kind != EdgeHoldsLock || g.Edges[0].Source != "agent:a1" || g.Edges[0].Target != "resource:/x" {
		t.Fatalf("unexpected edges: %+v", g.Edges)
	}

	released := lockSnapshot()
	released.Locks = nil
	m.Derive(released, nil)
	g = m.Graph()
	if len(g.Edges) != 0 {
		t.Fatalf("expected no edges after release, got %+v", g.Edges)
	}
	if _, ok := g.Node("resource:/x"); ok {
		t.Fatal("resource without activity should be pruned")
	}
}

func TestModel_ReleasedResourceWithRecentEventSurvives(t *testing.T) {
	m := newTestModel()
	snap := lockSnapshot()
	snap.Locks = nil
	m.Derive(snap, []model.DomainEvent{{ID: "e1", Type: "lock_released", Path: "/x", Cursor: 1}})
	if _, ok := m.Graph().Node("resource:/x"); !ok {
		t.Fatal("resource with recent activity should be kept")
	}
}

func TestModel_DeriveIsIdempotent(t *testing.T) {
	m := newTestModel()
	snap := lockSnapshot()
	snap.Intents = []model.Intent{{ID: "i1", AgentID: "a1", Action: "edit", Status: model.IntentActive, Targets: []string{"/x", "/missing"}}}
	events := []model.DomainEvent{{ID: "e1", Type: "file_modified", AgentID: "a1", Path: "/x", Cursor: 1}}

	m.Derive(snap, events)
	first := m.Graph()
	m.Derive(snap, events)
	second := m.Graph()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("derive not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestModel_ExistingNodesKeepPosition(t *testing.T) {
	m := newTestModel()
	m.Derive(lockSnapshot(), nil)
	sim := NewSimulator()
	for i := 0; i < 5; i++ {
		m.Tick(sim)
	}
	before, _ := m.Graph().Node("agent:a1")

	snap := lockSnapshot()
	snap.Agents[0].Name = "renamed"
	snap.Agents = append(snap.Agents, model.Agent{ID: "a2", Name: "beta"})
	m.Derive(snap, nil)
	after, _ := m.Graph().Node("agent:a1")
	if after.X != before.X || after.Y != before.Y || after.VX != before.VX || after.VY != before.VY {
		t.Fatalf("position changed: before=%+v after=%+v", before, after)
	}
	if after.Label != "renamed" {
		t.Fatalf("label not refreshed: %q", after.Label)
	}
}

func TestModel_WorkItemsOnlyForOpenIntents(t *testing.T) {
	m := newTestModel()
	snap := lockSnapshot()
	snap.Intents = []model.Intent{
		{ID: "i1", AgentID: "a1", Action: "a very long action label that gets cut", Status: model.IntentPending},
		{ID: "i2", AgentID: "a1", Action: "done", Status: model.IntentCompleted},
	}
	m.Derive(snap, nil)
	g := m.Graph()
	work, ok := g.Node("work:i1")
	if !ok {
		t.Fatal("missing work item for pending intent")
	}
	if len([]rune(work.Label)) != 20 {
		t.Fatalf("expected 20-rune label, got %q", work.Label)
	}
	if _, ok := g.Node("work:i2"); ok {
		t.Fatal("completed intent should not have a node")
	}
	agent, _ := g.Node("agent:a1")
	if abs(work.X-agent.X) > 25 || abs(work.Y-agent.Y) > 25 {
		t.Fatalf("work item not placed near agent: work=(%v,%v) agent=(%v,%v)", work.X, work.Y, agent.X, agent.Y)
	}
}

func TestModel_EdgesWithMissingEndpointsAreOmitted(t *testing.T) {
	m := newTestModel()
	snap := model.Empty()
	snap.Locks = []model.Lock{{ID: "L1", AgentID: "ghost", TargetPath: "/x"}}
	m.Derive(snap, []model.DomainEvent{{ID: "e1", Type: "file_modified", AgentID: "ghost", Path: "/x"}})
	if g := m.Graph(); len(g.Edges) != 0 {
		t.Fatalf("expected no edges, got %+v", g.Edges)
	}
}

func TestModel_RecentlyModifiedEdges(t *testing.T) {
	m := newTestModel()
	snap := lockSnapshot()
	events := []model.DomainEvent{
		{ID: "e1", Type: "file_modified", AgentID: "a1", Path: "/y"},
		{ID: "e2", Type: "lock_acquired", AgentID: "a1", Path: "/x"},
	}
	m.Derive(snap, events)
	g := m.Graph()
	var found bool
	for _, e := range g.Edges {
		if e.Kind == EdgeRecentlyModified && e.Target == "resource:/y" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recently-modified edge, got %+v", g.Edges)
	}
	res, _ := g.Node("resource:/x")
	if !res.Pulse {
		t.Fatal("resource touched by the latest event should pulse")
	}
}

func TestModel_NilSnapshotYieldsEmptyGraph(t *testing.T) {
	m := newTestModel()
	m.Derive(lockSnapshot(), nil)
	m.Derive(nil, nil)
	if g := m.Graph(); len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Fatalf("expected empty graph, got %+v", g)
	}
}

func TestModel_GraphReturnsCopy(t *testing.T) {
	m := newTestModel()
	m.Derive(lockSnapshot(), nil)
	g := m.Graph()
	g.Nodes[0].X = -1000
	if m.Graph().Nodes[0].X == -1000 {
		t.Fatal("graph view aliases model state")
	}
}

func TestRoleColor(t *testing.T) {
	cases := map[model.Role]string{
		model.RoleCoder:    ColorBlue,
		model.RolePlanner:  ColorPurple,
		model.RoleTester:   ColorGreen,
		model.RoleExecutor: ColorAmber,
		model.RoleObserver: ColorGray,
		model.RoleFixer:    ColorBlue,
	}
	for role, want := range cases {
		if got := RoleColor(role); got != want {
			t.Fatalf("role %s: expected %s, got %s", role, want, got)
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestModel_IntentWithTwoTargetsCreatesBothResources(t *testing.T) {
	m := newTestModel()
	snap := lockSnapshot()
	snap.Locks = nil
	snap.Intents = []model.Intent{{ID: "i1", AgentID: "a1", Action: "refactor", Targets: []string{"/a", "/b"}, Status: model.IntentActive}}
	m.Derive(snap, []model.DomainEvent{{ID: "e1", Type: "intent_broadcast", AgentID: "a1", Path: "/a", Paths: []string{"/a", "/b"}, Cursor: 1}})
	g := m.Graph()
	for _, p := range []string{"/a", "/b"} {
		res, ok := g.Node(ResourceNodeID(p))
		if !ok {
			t.Fatalf("missing resource node for %s", p)
		}
		if !res.Pulse {
			t.Fatalf("resource %s touched by the latest event should pulse", p)
		}
	}
	want := map[string]bool{"intent:i1:/a": false, "intent:i1:/b": false}
	for _, e := range g.Edges {
		if _, ok := want[e.ID]; ok && e.Source == "work:i1" {
			want[e.ID] = true
		}
	}
	for id, found := range want {
		if !found {
			t.Fatalf("missing edge %s: %+v", id, g.Edges)
		}
	}
}

func TestModel_LenTracksDerivedNodes(t *testing.T) {
	m := newTestModel()
	if m.Len() != 0 {
		t.Fatalf("expected empty model, got %d", m.Len())
	}
	m.Derive(lockSnapshot(), nil)
	if m.Len() != 2 {
		t.Fatalf("expected agent and resource nodes, got %d", m.Len())
	}
	m.Tick(NewSimulator())
	if m.Len() != len(m.Graph().Nodes) {
		t.Fatalf("Len %d disagrees with graph of %d nodes", m.Len(), len(m.Graph().Nodes))
	}
}
