package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Snapshot is the full mirrored hub state at Cursor.
type Snapshot struct {
	Agents    []Agent               `json:"agents"`
	Locks     []Lock                `json:"locks"`
	Intents   []Intent              `json:"intents"`
	Files     map[string]FileRecord `json:"files"`
	WorkQueue []WorkItem            `json:"workQueue"`
	Target    *string               `json:"target,omitempty"`
	Cursor    int64                 `json:"cursor"`
}

// Clone returns a deep copy that shares no slices or maps with s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Agents:    make([]Agent, len(s.Agents)),
		Locks:     make([]Lock, len(s.Locks)),
		Intents:   make([]Intent, len(s.Intents)),
		Files:     make(map[string]FileRecord, len(s.Files)),
		WorkQueue: make([]WorkItem, len(s.WorkQueue)),
		Cursor:    s.Cursor,
	}
	for i, a := range s.Agents {
		a.Caps = append([]string(nil), a.Caps...)
		out.Agents[i] = a
	}
	copy(out.Locks, s.Locks)
	for i, in := range s.Intents {
		in.Targets = append([]string(nil), in.Targets...)
		out.Intents[i] = in
	}
	for k, v := range s.Files {
		out.Files[k] = v
	}
	copy(out.WorkQueue, s.WorkQueue)
	if s.Target != nil {
		t := *s.Target
		out.Target = &t
	}
	return out
}

// Validate checks the internal consistency rules the mirror maintains.
func (s *Snapshot) Validate() error {
	if s == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, a := range s.Agents {
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	seen = map[string]struct{}{}
	paths := map[string]string{}
	for _, l := range s.Locks {
		if _, ok := seen[l.ID]; ok {
			return fmt.Errorf("duplicate lock id %q", l.ID)
		}
		seen[l.ID] = struct{}{}
		if other, ok := paths[l.TargetPath]; ok {
			return fmt.Errorf("locks %q and %q both hold %q", other, l.ID, l.TargetPath)
		}
		paths[l.TargetPath] = l.ID
	}
	seen = map[string]struct{}{}
	for _, in := range s.Intents {
		if _, ok := seen[in.ID]; ok {
			return fmt.Errorf("duplicate intent id %q", in.ID)
		}
		seen[in.ID] = struct{}{}
	}
	return nil
}

func (s *Snapshot) Agent(id string) (Agent, bool) {
	if s == nil {
		return Agent{}, false
	}
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// ActiveLocks returns the locks not yet expired at now, ordered by path.
func (s *Snapshot) ActiveLocks(now time.Time) []Lock {
	if s == nil {
		return nil
	}
	out := make([]Lock, 0, len(s.Locks))
	for _, l := range s.Locks {
		if !l.Expired(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetPath < out[j].TargetPath })
	return out
}

func (s *Snapshot) OpenIntents() []Intent {
	if s == nil {
		return nil
	}
	out := make([]Intent, 0, len(s.Intents))
	for _, in := range s.Intents {
		if in.Status.Open() {
			out = append(out, in)
		}
	}
	return out
}

// Empty returns a snapshot with non-nil collections.
func Empty() *Snapshot {
	return &Snapshot{
		Agents:    []Agent{},
		Locks:     []Lock{},
		Intents:   []Intent{},
		Files:     map[string]FileRecord{},
		WorkQueue: []WorkItem{},
	}
}

// DomainEvent is one entry of the event feed. Immutable once appended.
type DomainEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	AgentID      string          `json:"agentId,omitempty"`
	Timestamp    Millis          `json:"timestamp"`
	Cursor       int64           `json:"cursor"`
	RemoteCursor int64           `json:"remoteCursor,omitempty"`
	Path         string          `json:"path,omitempty"`
	// Paths lists every resource the event touched; Path is the first.
	Paths        []string        `json:"paths,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// TouchedPaths returns every resource path the event refers to.
func (e DomainEvent) TouchedPaths() []string {
	if len(e.Paths) > 0 {
		return e.Paths
	}
	if e.Path != "" {
		return []string{e.Path}
	}
	return nil
}

// System reports whether the event has no originating agent.
func (e DomainEvent) System() bool {
	return e.AgentID == ""
}
