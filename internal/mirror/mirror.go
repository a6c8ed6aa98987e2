// Package mirror holds the local copy of hub state and applies inbound
// messages to it.
package mirror

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"synapse/cli/internal/eventlog"
	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
)

var ErrUnhandledBody = errors.New("unhandled message body")

type Outcome int

const (
	// Ignored messages carry no state (pong, error, ack without blueprint).
	Ignored Outcome = iota
	Applied
	Replaced
	// Duplicate covers repeated inserts, removals of missing ids and
	// updates that change nothing.
	Duplicate
	// Superseded deltas are older than the held cursor.
	Superseded
	// Stale snapshots carry a cursor below the held cursor.
	Stale
	// Unsynced deltas arrived before the first snapshot.
	Unsynced
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	case Superseded:
		return "superseded"
	case Stale:
		return "stale"
	case Unsynced:
		return "unsynced"
	default:
		return "ignored"
	}
}

type Options struct {
	Log      *eventlog.Log
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
	OnAppend func(model.DomainEvent)
}

// Mirror is not safe for concurrent use; the engine loop owns it.
type Mirror struct {
	snap   *model.Snapshot
	cursor int64

	log      *eventlog.Log
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	onAppend func(model.DomainEvent)
}

func New(opts Options) *Mirror {
	m := &Mirror{
		log:      opts.Log,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
		onAppend: opts.OnAppend,
	}
	if m.log == nil {
		m.log = eventlog.New(eventlog.DefaultCapacity)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Snapshot returns a copy of the mirrored state, or nil before the first sync.
func (m *Mirror) Snapshot() *model.Snapshot {
	return m.snap.Clone()
}

func (m *Mirror) Synced() bool {
	return m.snap != nil
}

func (m *Mirror) Cursor() int64 {
	return m.cursor
}

func (m *Mirror) Events(limit int) []model.DomainEvent {
	return m.log.Recent(limit)
}

// Apply routes one decoded inbound message into the snapshot.
func (m *Mirror) Apply(in protocol.Inbound) (Outcome, error) {
	switch body := in.Body.(type) {
	case protocol.Ack:
		if body.Blueprint == nil {
			return Ignored, nil
		}
		return m.push(*body.Blueprint), nil
	case protocol.SnapshotPush:
		return m.push(body.Snapshot), nil
	case protocol.ChangesPush:
		return m.ApplyChanges(body.Changes), nil
	case protocol.Pong, protocol.HubError:
		return Ignored, nil
	}
	if !in.Kind.Delta() {
		return Ignored, fmt.Errorf("%w: %T", ErrUnhandledBody, in.Body)
	}
	if m.snap == nil {
		return Unsynced, nil
	}
	if in.Meta.HasCursor && in.Meta.Cursor <= m.cursor {
		return Superseded, nil
	}
	if in.Meta.ID != "" && m.log.Seen(in.Meta.ID) {
		return Duplicate, nil
	}

	paths, changed, err := m.applyDelta(in)
	if err != nil {
		return Ignored, err
	}
	if in.Meta.HasCursor {
		m.cursor = in.Meta.Cursor
		m.snap.Cursor = m.cursor
	}
	if !changed {
		return Duplicate, nil
	}
	m.record(in, paths)
	return Applied, nil
}

// Replace installs snap as the whole mirrored state.
func (m *Mirror) Replace(snap model.Snapshot) {
	m.snap = normalize(snap)
	m.cursor = m.snap.Cursor
}

// Reconcile installs a snapshot fetched by the fallback path when it is
// newer than the held state.
func (m *Mirror) Reconcile(fetched model.Snapshot) Outcome {
	if m.snap != nil && fetched.Cursor <= m.cursor {
		return Stale
	}
	m.Replace(fetched)
	return Replaced
}

// ApplyChanges merges a partial changes response. Collections the hub did
// not include are kept.
func (m *Mirror) ApplyChanges(c protocol.Changes) Outcome {
	if !c.Changed {
		return Ignored
	}
	if m.snap != nil && c.Version <= m.cursor {
		return Stale
	}
	next := model.Empty()
	if m.snap != nil {
		next = m.snap.Clone()
	}
	if c.Present["agents"] {
		next.Agents = c.Snapshot.Agents
	}
	if c.Present["locks"] {
		next.Locks = c.Snapshot.Locks
	}
	if c.Present["intents"] {
		next.Intents = c.Snapshot.Intents
	}
	if c.Present["files"] {
		next.Files = c.Snapshot.Files
	}
	if c.Present["workQueue"] {
		next.WorkQueue = c.Snapshot.WorkQueue
	}
	if c.Present["target"] {
		next.Target = c.Snapshot.Target
	}
	next.Cursor = c.Version
	m.Replace(*next)
	return Replaced
}

// ExpireLocks drops locks whose expiry has passed and records a
// lock_expired event for each.
func (m *Mirror) ExpireLocks(now time.Time) int {
	if m.snap == nil {
		return 0
	}
	kept := m.snap.Locks[:0]
	var expired []model.Lock
	for _, l := range m.snap.Locks {
		if l.Expired(now) {
			expired = append(expired, l)
			continue
		}
		kept = append(kept, l)
	}
	m.snap.Locks = kept
	for _, l := range expired {
		m.logger.Info("lock expired", "lock_id", l.ID, "path", l.TargetPath, "agent_id", l.AgentID)
		m.append(model.DomainEvent{
			ID:        "lock_expired:" + l.ID + ":" + fmt.Sprint(l.ExpiresAt.UnixMilli()),
			Type:      string(protocol.KindLockExpired),
			AgentID:   l.AgentID,
			Timestamp: model.MillisOf(now),
			Path:      l.TargetPath,
		})
	}
	return len(expired)
}

// Reset forgets all state. Used on workspace switch.
func (m *Mirror) Reset() {
	m.snap = nil
	m.cursor = 0
	m.log.Reset()
}

func (m *Mirror) push(snap model.Snapshot) Outcome {
	if m.snap != nil && snap.Cursor < m.cursor {
		m.logger.Debug("stale snapshot dropped", "cursor", snap.Cursor, "held", m.cursor)
		return Stale
	}
	m.Replace(snap)
	return Replaced
}

func (m *Mirror) record(in protocol.Inbound, paths []string) {
	ts := in.Meta.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	id := in.Meta.ID
	if id == "" {
		id = m.newID()
	}
	evt := model.DomainEvent{
		ID:           id,
		Type:         string(in.Kind),
		AgentID:      in.Meta.AgentID,
		Timestamp:    model.MillisOf(ts),
		RemoteCursor: in.Meta.Cursor,
		Payload:      in.Meta.Data,
	}
	if len(paths) > 0 {
		evt.Path = paths[0]
		evt.Paths = paths
	}
	m.append(evt)
}

func (m *Mirror) append(evt model.DomainEvent) {
	stored, ok := m.log.Append(evt)
	if !ok {
		return
	}
	if m.onAppend != nil {
		m.onAppend(stored)
	}
}

// normalize makes a snapshot safe to hold: non-nil collections, unique ids
// and one lock per path (the latest acquisition wins).
func normalize(in model.Snapshot) *model.Snapshot {
	snap := in.Clone()
	if snap.Files == nil {
		snap.Files = map[string]model.FileRecord{}
	}
	if snap.WorkQueue == nil {
		snap.WorkQueue = []model.WorkItem{}
	}

	agents := make([]model.Agent, 0, len(snap.Agents))
	agentAt := map[string]int{}
	for _, a := range snap.Agents {
		if a.ID == "" {
			continue
		}
		if i, ok := agentAt[a.ID]; ok {
			agents[i] = a
			continue
		}
		agentAt[a.ID] = len(agents)
		agents = append(agents, a)
	}
	snap.Agents = agents

	locks := make([]model.Lock, 0, len(snap.Locks))
	lockAt := map[string]int{}
	for _, l := range snap.Locks {
		if l.ID == "" || l.TargetPath == "" {
			continue
		}
		if i, ok := lockAt[l.TargetPath]; ok {
			if !l.AcquiredAt.Before(locks[i].AcquiredAt.Time) {
				locks[i] = l
			}
			continue
		}
		lockAt[l.TargetPath] = len(locks)
		locks = append(locks, l)
	}
	seen := map[string]bool{}
	unique := locks[:0]
	for _, l := range locks {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		unique = append(unique, l)
	}
	snap.Locks = unique

	intents := make([]model.Intent, 0, len(snap.Intents))
	intentAt := map[string]int{}
	for _, in := range snap.Intents {
		if in.ID == "" {
			continue
		}
		if i, ok := intentAt[in.ID]; ok {
			intents[i] = in
			continue
		}
		intentAt[in.ID] = len(intents)
		intents = append(intents, in)
	}
	snap.Intents = intents

	files := make(map[string]model.FileRecord, len(snap.Files))
	for key, rec := range snap.Files {
		if rec.Path == "" {
			rec.Path = key
		}
		files[rec.Path] = rec
	}
	snap.Files = files
	return snap
}
