package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
)

func TestConn_RunDeliversFramesUntilClose(t *testing.T) {
	fake := NewFakeSocket()
	c := NewConn(fake)
	var got []string
	c.OnText(func(s string) { got = append(got, s) })

	fake.EmitText("hello")
	fake.EmitText("world")
	_ = fake.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after close")
	}
	if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("unexpected frames: %v", got)
	}
}

func TestConn_RunReturnsTransportError(t *testing.T) {
	fake := NewFakeSocket()
	boom := errors.New("reset by peer")
	fake.Fail(boom)
	err := NewConn(fake).Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFakeSocket_RecordsWrites(t *testing.T) {
	fake := NewFakeSocket()
	_ = fake.WriteText(context.Background(), "a")
	_ = fake.WriteText(context.Background(), "b")
	_ = fake.Close()
	if err := fake.WriteText(context.Background(), "c"); !errors.Is(err, ErrFakeClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if w := fake.Writes(); len(w) != 2 || w[1] != "b" {
		t.Fatalf("unexpected writes: %v", w)
	}
}

func TestWSDialer_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("echo:"+string(data)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sock, err := WSDialer{}.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer sock.Close()
	if err := sock.WriteText(ctx, "ping"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := sock.ReadText(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "echo:ping" {
		t.Fatalf("unexpected frame: %q", got)
	}
	if _, err := sock.ReadText(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after normal close, got %v", err)
	}
}

type fakeSource struct {
	mu       sync.Mutex
	snap     model.Snapshot
	changes  protocol.Changes
	lastWS   string
	sinceArg []int64
}

func (f *fakeSource) GetSnapshot(ctx context.Context, workspaceID string) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWS = workspaceID
	return *f.snap.Clone(), nil
}

func (f *fakeSource) GetChanges(ctx context.Context, workspaceID string, since int64) (protocol.Changes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceArg = append(f.sinceArg, since)
	return f.changes, nil
}

func TestPollDialer_DeliversSnapshotThenChanges(t *testing.T) {
	src := &fakeSource{snap: model.Snapshot{Cursor: 3, Agents: []model.Agent{{ID: "a1", Name: "alpha", Online: true}}}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sock, err := PollDialer{Source: src, Interval: 10 * time.Millisecond}.Dial(ctx, "poll://hub?workspace=w1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer sock.Close()
	if src.lastWS != "w1" {
		t.Fatalf("expected workspace w1, got %q", src.lastWS)
	}

	first, err := sock.ReadText(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	in, err := protocol.Decode([]byte(first))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	push, ok := in.Body.(protocol.SnapshotPush)
	if !ok || push.Snapshot.Cursor != 3 || len(push.Snapshot.Agents) != 1 {
		t.Fatalf("unexpected first frame: %s", first)
	}

	if err := sock.WriteText(ctx, `{"type":"register","name":"x"}`); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ack, err := sock.ReadText(ctx)
	if err != nil || protocol.FrameType(ack) != "registered" {
		t.Fatalf("expected registered ack, got %q err=%v", ack, err)
	}

	src.mu.Lock()
	src.snap.Cursor = 4
	src.changes = protocol.Changes{Changed: true, Version: 4}
	src.mu.Unlock()
	next, err := sock.ReadText(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	in, err = protocol.Decode([]byte(next))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if push := in.Body.(protocol.SnapshotPush); push.Snapshot.Cursor != 4 {
		t.Fatalf("expected cursor 4, got %d", push.Snapshot.Cursor)
	}

	src.mu.Lock()
	src.changes = protocol.Changes{
		Changed:  true,
		Version:  5,
		Snapshot: model.Snapshot{Agents: []model.Agent{}},
		Present:  map[string]bool{"agents": true},
	}
	src.mu.Unlock()
	partial, err := sock.ReadText(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	in, err = protocol.Decode([]byte(partial))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cpush, ok := in.Body.(protocol.ChangesPush)
	if !ok || cpush.Changes.Version != 5 || !cpush.Changes.Present["agents"] {
		t.Fatalf("expected partial changes frame, got %s", partial)
	}
}

func TestPollSocket_CloseEndsRead(t *testing.T) {
	src := &fakeSource{}
	ctx := context.Background()
	sock, err := PollDialer{Source: src, Interval: time.Hour}.Dial(ctx, "")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if _, err := sock.ReadText(ctx); err != nil {
		t.Fatalf("initial read failed: %v", err)
	}
	_ = sock.Close()
	if _, err := sock.ReadText(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
