package eventlog

import (
	"fmt"
	"testing"

	"synapse/cli/internal/model"
)

func TestLog_AppendAssignsIncreasingCursors(t *testing.T) {
	l := New(10)
	for i := 0; i < 3; i++ {
		evt, ok := l.Append(model.DomainEvent{ID: fmt.Sprintf("e%d", i), Type: "lock_acquired", Cursor: 999})
		if !ok {
			t.Fatalf("append %d rejected", i)
		}
		if evt.Cursor != int64(i+1) {
			t.Fatalf("expected cursor %d, got %d", i+1, evt.Cursor)
		}
	}
}

func TestLog_RejectsDuplicateIDs(t *testing.T) {
	l := New(10)
	if _, ok := l.Append(model.DomainEvent{ID: "e1", Type: "lock_acquired"}); !ok {
		t.Fatal("first append should succeed")
	}
	if _, ok := l.Append(model.DomainEvent{ID: "e1", Type: "lock_acquired"}); ok {
		t.Fatal("duplicate append should be rejected")
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", l.Len())
	}
}

func TestLog_DropsOldestBeyondCapacity(t *testing.T) {
	l := New(DefaultCapacity)
	for i := 0; i < 150; i++ {
		l.Append(model.DomainEvent{ID: fmt.Sprintf("e%d", i)})
	}
	if l.Len() != DefaultCapacity {
		t.Fatalf("expected %d events, got %d", DefaultCapacity, l.Len())
	}
	all := l.Recent(0)
	if all[0].ID != "e50" || all[len(all)-1].ID != "e149" {
		t.Fatalf("unexpected window: first=%s last=%s", all[0].ID, all[len(all)-1].ID)
	}
	if _, ok := l.Append(model.DomainEvent{ID: "e0"}); ok {
		t.Fatal("evicted id within the dedupe window should still be rejected")
	}
}

func TestLog_RecentReturnsNewestOldestFirst(t *testing.T) {
	l := New(10)
	for i := 0; i < 5; i++ {
		l.Append(model.DomainEvent{ID: fmt.Sprintf("e%d", i)})
	}
	got := l.Recent(2)
	if len(got) != 2 || got[0].ID != "e3" || got[1].ID != "e4" {
		t.Fatalf("unexpected recent: %+v", got)
	}
}

func TestLog_RecentCopiesPayload(t *testing.T) {
	l := New(10)
	l.Append(model.DomainEvent{ID: "e1", Payload: []byte(`{"a":1}`)})
	got := l.Recent(1)
	got[0].Payload[2] = 'z'
	again := l.Recent(1)
	if string(again[0].Payload) != `{"a":1}` {
		t.Fatalf("stored payload mutated: %s", again[0].Payload)
	}
}

func TestLog_ResetKeepsCursorMonotonic(t *testing.T) {
	l := New(10)
	l.Append(model.DomainEvent{ID: "e1"})
	l.Append(model.DomainEvent{ID: "e2"})
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("expected empty log, got %d", l.Len())
	}
	evt, ok := l.Append(model.DomainEvent{ID: "e1"})
	if !ok {
		t.Fatal("ids should be forgotten after reset")
	}
	if evt.Cursor != 3 {
		t.Fatalf("expected cursor 3 after reset, got %d", evt.Cursor)
	}
}
