package protocol

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"synapse/cli/internal/model"
)

func decodeSnapshot(f fields) model.Snapshot {
	snap := *model.Empty()
	if c, ok := f.int("cursor"); ok {
		snap.Cursor = c
	} else if v, ok := f.int("version"); ok {
		snap.Cursor = v
	}
	for _, a := range f.list("agents") {
		agent := decodeAgent(a)
		if agent.ID == "" {
			continue
		}
		if v := a.boolPtr("online", "isOnline"); v != nil {
			agent.Online = *v
		} else {
			agent.Online = true
		}
		snap.Agents = append(snap.Agents, agent)
	}
	for _, l := range f.list("locks") {
		lock := decodeLock(l)
		if lock.TargetPath == "" {
			continue
		}
		if lock.ID == "" {
			lock.ID = "lock:" + lock.TargetPath + ":" + lock.AgentID
		}
		snap.Locks = append(snap.Locks, lock)
	}
	for _, in := range f.list("intents") {
		intent := decodeIntent(in)
		if intent.ID == "" {
			continue
		}
		snap.Intents = append(snap.Intents, intent)
	}
	if files, ok := f.obj("files"); ok {
		for path, raw := range files {
			obj, ok := parseFields(raw)
			if !ok {
				continue
			}
			rec := decodeFile(obj)
			if rec.Path == "" {
				rec.Path = strings.TrimSpace(path)
			}
			if rec.Path != "" {
				snap.Files[rec.Path] = rec
			}
		}
	} else {
		for _, obj := range f.list("files") {
			if rec := decodeFile(obj); rec.Path != "" {
				snap.Files[rec.Path] = rec
			}
		}
	}
	for _, w := range f.list("workQueue", "work_queue") {
		item := model.WorkItem{
			ID:          w.str("id"),
			Description: firstNonEmpty(w.str("description"), w.str("label")),
			Role:        model.NormalizeRole(w.str("role")),
			Status:      w.str("status"),
		}
		if item.ID != "" {
			snap.WorkQueue = append(snap.WorkQueue, item)
		}
	}
	if t := f.strPtr("target", "currentTarget", "goal"); t != nil && *t != "" {
		snap.Target = t
	}
	return snap
}

func decodeAgent(f fields) model.Agent {
	return model.Agent{
		ID:          f.str("id", "agentId"),
		Name:        firstNonEmpty(f.str("name", "displayName"), f.str("id", "agentId")),
		Role:        model.NormalizeRole(f.str("role")),
		Environment: f.str("environment", "env"),
		CurrentTask: f.str("currentTask", "current_task", "task"),
		LastSeen:    f.time("lastSeen", "last_seen", "connectedAt"),
		Caps:        f.strings("capabilities"),
	}
}

func decodeLock(f fields) model.Lock {
	lock := model.Lock{
		ID:         f.str("id", "lockId"),
		AgentID:    f.str("agentId", "agent_id", "owner"),
		TargetPath: targetPathOf(f),
		TargetKind: f.str("targetType", "targetKind"),
		TargetID:   f.str("targetIdentifier", "identifier"),
		AcquiredAt: f.time("acquiredAt", "acquired_at"),
		ExpiresAt:  f.time("expiresAt", "expires_at"),
	}
	if target, ok := f.obj("target"); ok {
		lock.TargetKind = firstNonEmpty(target.str("type", "kind"), lock.TargetKind)
		lock.TargetID = firstNonEmpty(target.str("identifier", "id"), lock.TargetID)
	}
	if lock.TargetKind == "" {
		lock.TargetKind = "file"
	}
	if lock.ExpiresAt.IsZero() && !lock.AcquiredAt.IsZero() {
		if ttl, ok := f.int("ttl"); ok && ttl > 0 {
			lock.ExpiresAt = model.MillisOf(lock.AcquiredAt.Add(time.Duration(ttl) * time.Millisecond))
		}
	}
	return lock
}

// targetPathOf accepts both the flat targetPath spelling and the nested
// target.path object.
func targetPathOf(f fields) string {
	if p := f.str("targetPath", "target_path", "path"); p != "" {
		return p
	}
	if target, ok := f.obj("target"); ok {
		return target.str("path")
	}
	return f.str("target")
}

func decodeIntent(f fields) model.Intent {
	return model.Intent{
		ID:          f.str("id", "intentId"),
		AgentID:     f.str("agentId", "agent_id"),
		Action:      f.str("action"),
		Description: f.str("description"),
		Targets:     f.strings("targets", "targetPaths"),
		Priority:    int(intOrZero(f, "priority")),
		Status:      model.NormalizeIntentStatus(f.str("status")),
		CreatedAt:   f.time("createdAt", "created_at"),
		UpdatedAt:   f.time("updatedAt", "updated_at"),
	}
}

func decodeFile(f fields) model.FileRecord {
	return model.FileRecord{
		Path:           f.str("path"),
		Version:        intOrZero(f, "version"),
		Checksum:       f.str("checksum", "hash"),
		LastModifiedBy: f.str("lastModifiedBy", "modifiedBy"),
		LastModifiedAt: f.time("lastModifiedAt", "modifiedAt"),
	}
}

func intOrZero(f fields, keys ...string) int64 {
	n, _ := f.int(keys...)
	return n
}

// DecodeSnapshot parses a REST snapshot body (flat or wrapped in blueprint).
func DecodeSnapshot(raw []byte) (model.Snapshot, error) {
	f, ok := parseFields(raw)
	if !ok {
		return model.Snapshot{}, ErrMalformed
	}
	if bp, ok := f.obj("blueprint", "snapshot", "state"); ok {
		snap := decodeSnapshot(bp)
		if _, has := bp.int("cursor", "version"); !has {
			snap.Cursor = intOrZero(f, "cursor", "version")
		}
		return snap, nil
	}
	return decodeSnapshot(f), nil
}

// Changes is the body of GET .../changes?since=<cursor>.
type Changes struct {
	Changed  bool
	Version  int64
	Snapshot model.Snapshot
	// Present lists the snapshot collections the hub included.
	Present map[string]bool
}

func DecodeChanges(raw []byte) (Changes, error) {
	f, ok := parseFields(raw)
	if !ok {
		return Changes{}, ErrMalformed
	}
	return decodeChanges(f), nil
}

var changeKeys = []string{"agents", "locks", "intents", "files", "workQueue", "target"}

func decodeChanges(f fields) Changes {
	out := Changes{Present: map[string]bool{}}
	if v := f.boolPtr("changed"); v != nil {
		out.Changed = *v
	}
	out.Version = intOrZero(f, "version", "cursor")
	src := f
	if bp, ok := f.obj("blueprint", "snapshot"); ok {
		src = bp
	}
	for _, key := range changeKeys {
		if _, ok := src[key]; ok {
			out.Present[key] = true
		}
	}
	out.Snapshot = decodeSnapshot(src)
	out.Snapshot.Cursor = out.Version
	return out
}

// DecodeWorkspaces accepts a bare list or {"workspaces":[...]}.
func DecodeWorkspaces(raw []byte) ([]model.Workspace, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		f, ok := parseFields(raw)
		if !ok {
			return nil, ErrMalformed
		}
		v, ok := f.raw("workspaces", "data")
		if !ok {
			return []model.Workspace{}, nil
		}
		if err := json.Unmarshal(v, &list); err != nil {
			return nil, ErrMalformed
		}
	}
	out := make([]model.Workspace, 0, len(list))
	for _, item := range list {
		w, ok := parseFields(item)
		if !ok {
			continue
		}
		ws := decodeWorkspace(w)
		if ws.ID != "" {
			out = append(out, ws)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func DecodeWorkspace(raw []byte) (model.Workspace, error) {
	f, ok := parseFields(raw)
	if !ok {
		return model.Workspace{}, ErrMalformed
	}
	if inner, ok := f.obj("workspace", "data"); ok {
		f = inner
	}
	ws := decodeWorkspace(f)
	if ws.ID == "" {
		return model.Workspace{}, ErrMalformed
	}
	return ws, nil
}

func decodeWorkspace(f fields) model.Workspace {
	ws := model.Workspace{
		ID:     f.str("id"),
		Name:   f.str("name"),
		Agents: int(intOrZero(f, "agents")),
	}
	if t := f.strPtr("target"); t != nil && *t != "" {
		ws.Target = t
	}
	return ws
}
