package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"synapse/cli/internal/model"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
)

type Kind string

const (
	KindConnected         Kind = "connected"
	KindRegistered        Kind = "registered"
	KindBlueprint         Kind = "blueprint"
	KindSnapshot          Kind = "snapshot"
	KindAgentConnected    Kind = "agent_connected"
	KindAgentDisconnected Kind = "agent_disconnected"
	KindAgentUpdated      Kind = "agent_updated"
	KindIntentBroadcast   Kind = "intent_broadcast"
	KindIntentUpdated     Kind = "intent_updated"
	KindIntentCompleted   Kind = "intent_completed"
	KindIntentCancelled   Kind = "intent_cancelled"
	KindLockAcquired      Kind = "lock_acquired"
	KindLockReleased      Kind = "lock_released"
	KindFileModified      Kind = "file_modified"
	KindTargetUpdated     Kind = "target_updated"
	KindChanges           Kind = "changes"
	KindPong              Kind = "pong"
	KindError             Kind = "error"

	// KindLockExpired is never sent by the hub; the mirror records it when
	// a lock passes its expiry.
	KindLockExpired Kind = "lock_expired"
)

// Delta reports whether messages of this kind describe one domain occurrence.
func (k Kind) Delta() bool {
	switch k {
	case KindAgentConnected, KindAgentDisconnected, KindAgentUpdated,
		KindIntentBroadcast, KindIntentUpdated, KindIntentCompleted, KindIntentCancelled,
		KindLockAcquired, KindLockReleased, KindFileModified, KindTargetUpdated:
		return true
	default:
		return false
	}
}

// Meta carries the envelope fields shared by every inbound message.
type Meta struct {
	ID        string
	AgentID   string
	Cursor    int64
	HasCursor bool
	Timestamp time.Time
	Data      json.RawMessage
}

// Body is the closed set of decoded inbound payloads.
type Body interface {
	body()
}

type Inbound struct {
	Kind Kind
	Meta Meta
	Body Body
}

type Ack struct {
	SessionToken string
	Blueprint    *model.Snapshot
}

type SnapshotPush struct {
	Snapshot model.Snapshot
}

// ChangesPush is a partial state update from the polling transport.
type ChangesPush struct {
	Changes Changes
}

type AgentJoined struct {
	Agent model.Agent
}

type AgentLeft struct {
	AgentID string
}

// AgentChanged carries only the fields present on the wire.
type AgentChanged struct {
	AgentID     string
	Name        *string
	Role        *string
	Environment *string
	CurrentTask *string
	Online      *bool
}

type IntentBroadcast struct {
	Intent model.Intent
}

type IntentStatusChanged struct {
	IntentID string
	Status   model.IntentStatus
}

type LockAcquired struct {
	Lock model.Lock
}

type LockReleased struct {
	LockID string
	Path   string
}

type FileModified struct {
	Record     model.FileRecord
	HasVersion bool
}

type TargetChanged struct {
	Target *string
}

type Pong struct{}

type HubError struct {
	Code    string
	Message string
}

func (Ack) body()                 {}
func (SnapshotPush) body()        {}
func (ChangesPush) body()         {}
func (AgentJoined) body()         {}
func (AgentLeft) body()           {}
func (AgentChanged) body()        {}
func (IntentBroadcast) body()     {}
func (IntentStatusChanged) body() {}
func (LockAcquired) body()        {}
func (LockReleased) body()        {}
func (FileModified) body()        {}
func (TargetChanged) body()       {}
func (Pong) body()                {}
func (HubError) body()            {}

// Decode parses one inbound frame into the canonical union. Frames wrapped
// in a mux envelope are unwrapped first.
func Decode(raw []byte) (Inbound, error) {
	if _, inner, err := UnwrapMuxEnvelope(raw); err == nil {
		raw = inner
	}
	top, ok := parseFields(raw)
	if !ok {
		return Inbound{}, ErrMalformed
	}
	kind := Kind(strings.ToLower(top.str("type")))
	if kind == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	// The hub may deliver deltas inside {"type":"event","event":{...,"data":{...}}}.
	payload := top
	meta := Meta{}
	if kind == "event" {
		evt, ok := top.obj("event")
		if !ok {
			return Inbound{}, fmt.Errorf("%w: event frame without event", ErrMalformed)
		}
		kind = Kind(strings.ToLower(evt.str("type")))
		meta = readMeta(evt, "eventId", "event_id", "id")
		if data, ok := evt.obj("data", "payload"); ok {
			payload = data
			if meta.AgentID == "" {
				meta.AgentID = data.str("agentId", "agent_id")
			}
			meta.Data, _ = evt.raw("data", "payload")
		} else {
			// The envelope id names the event, not the entity.
			payload = mergeFields(evt, nil)
			delete(payload, "id")
		}
	} else {
		// In flat frames "id" belongs to the entity.
		meta = readMeta(top, "eventId", "event_id")
		if data, ok := top.obj("data", "payload"); ok && kind.Delta() {
			payload = mergeFields(top, data)
			meta.Data, _ = top.raw("data", "payload")
		}
	}
	if meta.Data == nil {
		meta.Data = json.RawMessage(raw)
	}

	body, err := decodeBody(kind, payload, top, &meta)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Kind: kind, Meta: meta, Body: body}, nil
}

func readMeta(f fields, idKeys ...string) Meta {
	cursor, hasCursor := f.int("cursor")
	ts := f.time("timestamp", "ts")
	return Meta{
		ID:        f.str(idKeys...),
		AgentID:   f.str("agentId", "agent_id"),
		Cursor:    cursor,
		HasCursor: hasCursor,
		Timestamp: ts.Time,
	}
}

func mergeFields(base, over fields) fields {
	out := make(fields, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func decodeBody(kind Kind, f, top fields, meta *Meta) (Body, error) {
	switch kind {
	case KindConnected, KindRegistered:
		ack := Ack{SessionToken: top.str("sessionToken", "session_token", "token")}
		if bp, ok := top.obj("blueprint", "snapshot"); ok {
			snap := decodeSnapshot(bp)
			if _, has := bp.int("cursor", "version"); !has {
				snap.Cursor = meta.Cursor
			}
			ack.Blueprint = &snap
		}
		return ack, nil
	case KindBlueprint, KindSnapshot:
		src := top
		if bp, ok := top.obj("blueprint", "snapshot"); ok {
			src = bp
		}
		snap := decodeSnapshot(src)
		if _, has := src.int("cursor", "version"); !has {
			snap.Cursor = meta.Cursor
		}
		meta.Cursor, meta.HasCursor = snap.Cursor, true
		return SnapshotPush{Snapshot: snap}, nil
	case KindChanges:
		c := decodeChanges(top)
		meta.Cursor, meta.HasCursor = c.Version, true
		return ChangesPush{Changes: c}, nil
	case KindAgentConnected:
		var agent model.Agent
		online := true
		if a, ok := f.obj("agent"); ok {
			agent = decodeAgent(a)
			if v := a.boolPtr("online", "isOnline"); v != nil {
				online = *v
			}
		} else {
			agent = decodeAgent(f)
			agent.ID = agentIDOf(f, meta)
		}
		if agent.ID == "" {
			return nil, fmt.Errorf("%w: %s without agent id", ErrMalformed, kind)
		}
		agent.Online = online
		if meta.AgentID == "" {
			meta.AgentID = agent.ID
		}
		return AgentJoined{Agent: agent}, nil
	case KindAgentDisconnected:
		id := agentIDOf(f, meta)
		if id == "" {
			return nil, fmt.Errorf("%w: %s without agent id", ErrMalformed, kind)
		}
		return AgentLeft{AgentID: id}, nil
	case KindAgentUpdated:
		src := f
		id := agentIDOf(f, meta)
		if a, ok := f.obj("agent"); ok {
			src = a
			id = firstNonEmpty(a.str("id"), id)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: %s without agent id", ErrMalformed, kind)
		}
		return AgentChanged{
			AgentID:     id,
			Name:        src.strPtr("name"),
			Role:        src.strPtr("role"),
			Environment: src.strPtr("environment", "env"),
			CurrentTask: src.strPtr("currentTask", "current_task", "task"),
			Online:      src.boolPtr("online", "isOnline"),
		}, nil
	case KindIntentBroadcast:
		var intent model.Intent
		if in, ok := f.obj("intent"); ok {
			intent = decodeIntent(in)
		} else {
			intent = decodeIntent(f)
			intent.ID = f.str("intentId", "intent_id", "id")
		}
		if intent.ID == "" {
			return nil, fmt.Errorf("%w: %s without intent id", ErrMalformed, kind)
		}
		if intent.AgentID == "" {
			intent.AgentID = meta.AgentID
		}
		return IntentBroadcast{Intent: intent}, nil
	case KindIntentUpdated, KindIntentCompleted, KindIntentCancelled:
		id := f.str("intentId", "intent_id", "id")
		status := f.str("status")
		if in, ok := f.obj("intent"); ok {
			if id == "" {
				id = in.str("id")
			}
			if status == "" {
				status = in.str("status")
			}
		}
		if id == "" {
			return nil, fmt.Errorf("%w: %s without intent id", ErrMalformed, kind)
		}
		switch kind {
		case KindIntentCompleted:
			status = string(model.IntentCompleted)
		case KindIntentCancelled:
			status = string(model.IntentCancelled)
		}
		return IntentStatusChanged{IntentID: id, Status: model.NormalizeIntentStatus(status)}, nil
	case KindLockAcquired:
		var lock model.Lock
		src := f
		if l, ok := f.obj("lock"); ok {
			src = l
			lock = decodeLock(l)
		} else {
			lock = decodeLock(f)
			lock.ID = f.str("lockId", "lock_id", "id")
		}
		if lock.AgentID == "" {
			lock.AgentID = meta.AgentID
		}
		if lock.TargetPath == "" {
			return nil, fmt.Errorf("%w: %s without target path", ErrMalformed, kind)
		}
		if lock.ID == "" {
			lock.ID = "lock:" + lock.TargetPath + ":" + lock.AgentID
		}
		if lock.AcquiredAt.IsZero() && !meta.Timestamp.IsZero() {
			lock.AcquiredAt = model.MillisOf(meta.Timestamp)
		}
		if lock.ExpiresAt.IsZero() {
			if ttl, ok := src.int("ttl"); ok && ttl > 0 && !lock.AcquiredAt.IsZero() {
				lock.ExpiresAt = model.MillisOf(lock.AcquiredAt.Add(time.Duration(ttl) * time.Millisecond))
			}
		}
		if meta.AgentID == "" {
			meta.AgentID = lock.AgentID
		}
		return LockAcquired{Lock: lock}, nil
	case KindLockReleased:
		released := LockReleased{LockID: f.str("lockId", "lock_id", "id"), Path: targetPathOf(f)}
		if l, ok := f.obj("lock"); ok {
			released.LockID = firstNonEmpty(l.str("id", "lockId"), released.LockID)
			released.Path = firstNonEmpty(targetPathOf(l), released.Path)
		}
		if released.LockID == "" && released.Path == "" {
			return nil, fmt.Errorf("%w: %s without lock id or path", ErrMalformed, kind)
		}
		return released, nil
	case KindFileModified:
		src := f
		if file, ok := f.obj("file"); ok {
			src = file
		}
		path := firstNonEmpty(src.str("path", "filePath", "file_path"), f.str("path", "filePath"))
		if path == "" {
			return nil, fmt.Errorf("%w: %s without path", ErrMalformed, kind)
		}
		version, hasVersion := src.int("version")
		rec := model.FileRecord{
			Path:           path,
			Version:        version,
			Checksum:       src.str("checksum", "hash"),
			LastModifiedBy: firstNonEmpty(src.str("lastModifiedBy", "modifiedBy", "agentId"), meta.AgentID),
			LastModifiedAt: src.time("lastModifiedAt", "modifiedAt", "timestamp"),
		}
		if rec.LastModifiedAt.IsZero() && !meta.Timestamp.IsZero() {
			rec.LastModifiedAt = model.MillisOf(meta.Timestamp)
		}
		if meta.AgentID == "" {
			meta.AgentID = rec.LastModifiedBy
		}
		return FileModified{Record: rec, HasVersion: hasVersion}, nil
	case KindTargetUpdated:
		t := f.strPtr("target", "currentTarget", "goal")
		if t != nil && *t == "" {
			t = nil
		}
		return TargetChanged{Target: t}, nil
	case KindPong:
		return Pong{}, nil
	case KindError:
		e := HubError{Code: f.str("code"), Message: f.str("message", "error")}
		if inner, ok := f.obj("error"); ok {
			e.Code = firstNonEmpty(inner.str("code"), e.Code)
			e.Message = inner.str("message")
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
}

func agentIDOf(f fields, meta *Meta) string {
	if id := f.str("agentId", "agent_id"); id != "" {
		return id
	}
	if a, ok := f.obj("agent"); ok {
		if id := a.str("id"); id != "" {
			return id
		}
	}
	if id := f.str("id"); id != "" {
		return id
	}
	return meta.AgentID
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
