// Package eventlog keeps the bounded, append-ordered feed of domain events.
package eventlog

import (
	"encoding/json"

	"synapse/cli/internal/model"
)

const DefaultCapacity = 100

// Log is a fixed-capacity ring of events. Cursors are assigned at append
// time and keep increasing across Reset, so consumers can compare cursors
// from before and after a workspace switch.
type Log struct {
	capacity int
	events   []model.DomainEvent
	cursor   int64

	// ids remembers more ids than the ring holds so a late duplicate of an
	// evicted event is still recognised.
	ids      map[string]struct{}
	idOrder  []string
	idWindow int
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		events:   make([]model.DomainEvent, 0, capacity),
		ids:      map[string]struct{}{},
		idWindow: capacity * 4,
	}
}

// Append stores evt with the next cursor. It returns the stored event and
// false when an event with the same id was already appended.
func (l *Log) Append(evt model.DomainEvent) (model.DomainEvent, bool) {
	if evt.ID != "" {
		if _, dup := l.ids[evt.ID]; dup {
			return model.DomainEvent{}, false
		}
		l.remember(evt.ID)
	}
	l.cursor++
	evt.Cursor = l.cursor
	evt = clone(evt)
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:l.capacity-1]
	}
	l.events = append(l.events, evt)
	return clone(evt), true
}

// Seen reports whether id has been appended within the dedupe window.
func (l *Log) Seen(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Recent returns up to n of the newest events, oldest first. n <= 0 means all.
func (l *Log) Recent(n int) []model.DomainEvent {
	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	src := l.events[len(l.events)-n:]
	out := make([]model.DomainEvent, len(src))
	for i, evt := range src {
		out[i] = clone(evt)
	}
	return out
}

func (l *Log) Len() int {
	return len(l.events)
}

func (l *Log) Cursor() int64 {
	return l.cursor
}

func (l *Log) Capacity() int {
	return l.capacity
}

// Reset drops all events and remembered ids. The cursor is kept.
func (l *Log) Reset() {
	l.events = l.events[:0]
	l.ids = map[string]struct{}{}
	l.idOrder = nil
}

func (l *Log) remember(id string) {
	l.ids[id] = struct{}{}
	l.idOrder = append(l.idOrder, id)
	if len(l.idOrder) > l.idWindow {
		drop := l.idOrder[0]
		l.idOrder = l.idOrder[1:]
		delete(l.ids, drop)
	}
}

func clone(evt model.DomainEvent) model.DomainEvent {
	evt.Payload = append(json.RawMessage(nil), evt.Payload...)
	if evt.Paths != nil {
		evt.Paths = append([]string(nil), evt.Paths...)
	}
	return evt
}
