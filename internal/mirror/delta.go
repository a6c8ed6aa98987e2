package mirror

import (
	"fmt"
	"slices"

	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
)

// applyDelta mutates the held snapshot. It returns the resource paths the
// delta touched and whether anything changed.
func (m *Mirror) applyDelta(in protocol.Inbound) ([]string, bool, error) {
	snap := m.snap
	ts := in.Meta.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	switch body := in.Body.(type) {
	case protocol.AgentJoined:
		i := indexAgent(snap.Agents, body.Agent.ID)
		if i < 0 {
			agent := body.Agent
			agent.Online = true
			if agent.Name == "" {
				agent.Name = agent.ID
			}
			if agent.LastSeen.IsZero() {
				agent.LastSeen = model.MillisOf(ts)
			}
			snap.Agents = append(snap.Agents, agent)
			return nil, true, nil
		}
		cur := &snap.Agents[i]
		if cur.Online {
			return nil, false, nil
		}
		cur.Online = true
		cur.LastSeen = model.MillisOf(ts)
		if n := body.Agent.Name; n != "" && n != body.Agent.ID {
			cur.Name = n
		}
		if body.Agent.Environment != "" {
			cur.Environment = body.Agent.Environment
		}
		return nil, true, nil

	case protocol.AgentLeft:
		i := indexAgent(snap.Agents, body.AgentID)
		if i < 0 || !snap.Agents[i].Online {
			return nil, false, nil
		}
		snap.Agents[i].Online = false
		snap.Agents[i].LastSeen = model.MillisOf(ts)
		return nil, true, nil

	case protocol.AgentChanged:
		i := indexAgent(snap.Agents, body.AgentID)
		if i < 0 {
			return nil, false, nil
		}
		cur := snap.Agents[i]
		next := cur
		if body.Name != nil && *body.Name != "" {
			next.Name = *body.Name
		}
		if body.Role != nil && *body.Role != "" {
			next.Role = model.NormalizeRole(*body.Role)
		}
		if body.Environment != nil {
			next.Environment = *body.Environment
		}
		if body.CurrentTask != nil {
			next.CurrentTask = *body.CurrentTask
		}
		if body.Online != nil {
			next.Online = *body.Online
		}
		if agentEqual(cur, next) {
			return nil, false, nil
		}
		next.LastSeen = model.MillisOf(ts)
		snap.Agents[i] = next
		return nil, true, nil

	case protocol.IntentBroadcast:
		if indexIntent(snap.Intents, body.Intent.ID) >= 0 {
			return nil, false, nil
		}
		intent := body.Intent
		intent.Targets = append([]string(nil), intent.Targets...)
		if intent.CreatedAt.IsZero() {
			intent.CreatedAt = model.MillisOf(ts)
		}
		if intent.UpdatedAt.IsZero() {
			intent.UpdatedAt = intent.CreatedAt
		}
		snap.Intents = append(snap.Intents, intent)
		return pathsOf(intent.Targets...), true, nil

	case protocol.IntentStatusChanged:
		i := indexIntent(snap.Intents, body.IntentID)
		if i < 0 || snap.Intents[i].Status == body.Status {
			return nil, false, nil
		}
		snap.Intents[i].Status = body.Status
		snap.Intents[i].UpdatedAt = model.MillisOf(ts)
		return pathsOf(snap.Intents[i].Targets...), true, nil

	case protocol.LockAcquired:
		lock := body.Lock
		if slices.ContainsFunc(snap.Locks, func(l model.Lock) bool { return l.ID == lock.ID }) {
			return pathsOf(lock.TargetPath), false, nil
		}
		snap.Locks = slices.DeleteFunc(snap.Locks, func(l model.Lock) bool {
			if l.TargetPath != lock.TargetPath {
				return false
			}
			m.logger.Info("lock replaced", "path", l.TargetPath, "old_lock_id", l.ID, "new_lock_id", lock.ID)
			return true
		})
		snap.Locks = append(snap.Locks, lock)
		return pathsOf(lock.TargetPath), true, nil

	case protocol.LockReleased:
		i := -1
		if body.LockID != "" {
			i = slices.IndexFunc(snap.Locks, func(l model.Lock) bool { return l.ID == body.LockID })
		}
		if i < 0 && body.Path != "" {
			i = slices.IndexFunc(snap.Locks, func(l model.Lock) bool { return l.TargetPath == body.Path })
		}
		if i < 0 {
			return pathsOf(body.Path), false, nil
		}
		path := snap.Locks[i].TargetPath
		snap.Locks = slices.Delete(snap.Locks, i, i+1)
		return pathsOf(path), true, nil

	case protocol.FileModified:
		rec := body.Record
		prev, known := snap.Files[rec.Path]
		switch {
		case !body.HasVersion && known && rec.Checksum == prev.Checksum && rec.LastModifiedBy == prev.LastModifiedBy:
			// Redelivery of the same modification.
			return pathsOf(rec.Path), false, nil
		case !body.HasVersion && known:
			rec.Version = prev.Version + 1
		case !body.HasVersion:
			rec.Version = 1
		case known && rec.Version < prev.Version:
			m.logger.Debug("file version regression dropped", "path", rec.Path, "version", rec.Version, "held", prev.Version)
			return pathsOf(rec.Path), false, nil
		case known && rec.Version == prev.Version && rec.Checksum == prev.Checksum:
			return pathsOf(rec.Path), false, nil
		}
		if rec.LastModifiedAt.IsZero() {
			rec.LastModifiedAt = model.MillisOf(ts)
		}
		snap.Files[rec.Path] = rec
		return pathsOf(rec.Path), true, nil

	case protocol.TargetChanged:
		if equalTarget(snap.Target, body.Target) {
			return nil, false, nil
		}
		if body.Target == nil {
			snap.Target = nil
		} else {
			t := *body.Target
			snap.Target = &t
		}
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("%w: %T", ErrUnhandledBody, in.Body)
}

func indexAgent(agents []model.Agent, id string) int {
	return slices.IndexFunc(agents, func(a model.Agent) bool { return a.ID == id })
}

func indexIntent(intents []model.Intent, id string) int {
	return slices.IndexFunc(intents, func(in model.Intent) bool { return in.ID == id })
}

func agentEqual(a, b model.Agent) bool {
	return a.Name == b.Name && a.Role == b.Role && a.Environment == b.Environment &&
		a.CurrentTask == b.CurrentTask && a.Online == b.Online
}

func equalTarget(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// pathsOf copies the non-empty paths, dropping repeats.
func pathsOf(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
