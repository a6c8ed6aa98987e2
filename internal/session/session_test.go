package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
	"synapse/cli/internal/transport"
)

// manualLoop runs posted functions only when the test asks it to, and
// keeps timers until they are fired by hand.
type manualLoop struct {
	posts chan func()

	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newManualLoop() *manualLoop {
	return &manualLoop{posts: make(chan func(), 256)}
}

func (l *manualLoop) Post(fn func()) {
	l.posts <- fn
}

func (l *manualLoop) AfterFunc(d time.Duration, fn func()) func() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	tm := &manualTimer{delay: d, fn: fn}
	l.timers = append(l.timers, tm)
	return func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		if tm.stopped || tm.fired {
			return false
		}
		tm.stopped = true
		return true
	}
}

// step runs exactly one posted function, failing the test on timeout.
func (l *manualLoop) step(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.posts:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for loop work")
	}
}

func (l *manualLoop) activeTimers() []*manualTimer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*manualTimer
	for _, tm := range l.timers {
		if !tm.stopped && !tm.fired {
			out = append(out, tm)
		}
	}
	return out
}

func (l *manualLoop) fire(t *testing.T, tm *manualTimer) {
	t.Helper()
	l.mu.Lock()
	tm.fired = true
	l.mu.Unlock()
	tm.fn()
}

type memTokens struct {
	token string
	saves int
}

func (m *memTokens) Token() (string, error) { return m.token, nil }
func (m *memTokens) SaveToken(token string) error {
	m.token = token
	m.saves++
	return nil
}

type harness struct {
	loop    *manualLoop
	dialer  *transport.FakeDialer
	tokens  *memTokens
	mgr     *Manager
	states  []bool
	inbound []string
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	h := &harness{
		loop:   newManualLoop(),
		dialer: transport.NewFakeDialer(),
		tokens: &memTokens{token: token},
	}
	h.mgr = New(Options{
		Dialer:         h.dialer,
		URL:            func() string { return "ws://hub/ws" },
		Loop:           h.loop,
		Tokens:         h.tokens,
		Profile:        Profile{ClientID: "c1", Name: "dashboard", Environment: "cli", Role: "observer", Capabilities: []string{"observe"}},
		ReconnectDelay: 3 * time.Second,
		OnStateChange:  func(c bool) { h.states = append(h.states, c) },
		OnMessage:      func(raw string) { h.inbound = append(h.inbound, raw) },
	})
	return h
}

// connect dials and processes the dial result.
func (h *harness) connect(t *testing.T) *transport.FakeSocket {
	t.Helper()
	h.mgr.Connect()
	h.loop.step(t)
	if h.mgr.State() != Connected {
		t.Fatalf("expected connected, got %s", h.mgr.State())
	}
	return h.dialer.Last()
}

func waitWrites(t *testing.T, sock *transport.FakeSocket, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := sock.Writes(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d writes, got %v", n, sock.Writes())
	return nil
}

func TestManager_RegistersWithoutStoredToken(t *testing.T) {
	h := newHarness(t, "")
	sock := h.connect(t)

	writes := waitWrites(t, sock, 1)
	var frame map[string]any
	if err := json.Unmarshal([]byte(writes[0]), &frame); err != nil {
		t.Fatalf("decode register frame: %v", err)
	}
	if frame["type"] != "register" || frame["name"] != "dashboard" || frame["environment"] != "cli" {
		t.Fatalf("unexpected register frame: %v", frame)
	}
	if _, ok := frame["resumptionToken"]; ok {
		t.Fatalf("token must be omitted when none is stored: %v", frame)
	}
	if len(h.states) != 1 || !h.states[0] {
		t.Fatalf("expected one connected notification, got %v", h.states)
	}

	h.mgr.HandleAck(protocol.Ack{SessionToken: "tok-1", Blueprint: model.Empty()})
	if h.tokens.token != "tok-1" {
		t.Fatalf("expected persisted token tok-1, got %q", h.tokens.token)
	}
}

func TestManager_RegistersWithStoredToken(t *testing.T) {
	h := newHarness(t, "tok-old")
	sock := h.connect(t)
	writes := waitWrites(t, sock, 1)
	var frame protocol.RegisterFrame
	if err := json.Unmarshal([]byte(writes[0]), &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.ResumptionToken != "tok-old" {
		t.Fatalf("expected stored token, got %q", frame.ResumptionToken)
	}

	h.mgr.HandleAck(protocol.Ack{SessionToken: "tok-new"})
	if h.tokens.token != "tok-new" {
		t.Fatalf("token not overwritten: %q", h.tokens.token)
	}
	writes = waitWrites(t, sock, 3)
	if protocol.FrameType(writes[1]) != "get_blueprint" || protocol.FrameType(writes[2]) != "subscribe" {
		t.Fatalf("expected blueprint request and subscribe, got %v", writes)
	}
}

func TestManager_AckWithoutTokenKeepsStoredToken(t *testing.T) {
	h := newHarness(t, "tok-1")
	h.connect(t)
	h.mgr.HandleAck(protocol.Ack{Blueprint: model.Empty()})
	if h.tokens.token != "tok-1" || h.tokens.saves != 0 {
		t.Fatalf("token should be untouched, got %q saves=%d", h.tokens.token, h.tokens.saves)
	}
}

func TestManager_ConnectWhileConnectedIsNoop(t *testing.T) {
	h := newHarness(t, "")
	h.connect(t)
	h.mgr.Connect()
	h.mgr.Connect()
	if n := len(h.dialer.URLs()); n != 1 {
		t.Fatalf("expected a single dial, got %d", n)
	}
}

func TestManager_CloseSchedulesExactlyOneRetry(t *testing.T) {
	h := newHarness(t, "")
	sock := h.connect(t)

	sock.Fail(errors.New("connection reset"))
	h.loop.step(t)
	if h.mgr.State() != ReconnectPending {
		t.Fatalf("expected reconnect-pending, got %s", h.mgr.State())
	}
	if len(h.states) != 2 || h.states[1] {
		t.Fatalf("expected connected then disconnected, got %v", h.states)
	}

	// Further close reports for the same connection must not stack retries.
	h.mgr.closed(h.mgr.gen, errors.New("second close"))
	h.mgr.closed(h.mgr.gen, errors.New("third close"))
	timers := h.loop.activeTimers()
	if len(timers) != 1 {
		t.Fatalf("expected one pending retry, got %d", len(timers))
	}
	if timers[0].delay != 3*time.Second {
		t.Fatalf("expected 3s delay, got %s", timers[0].delay)
	}
	if len(h.states) != 2 {
		t.Fatalf("disconnect must be reported once, got %v", h.states)
	}

	h.loop.fire(t, timers[0])
	if h.mgr.State() != Connecting {
		t.Fatalf("expected connecting after retry, got %s", h.mgr.State())
	}
	h.loop.step(t)
	if h.mgr.State() != Connected {
		t.Fatalf("expected connected after retry, got %s", h.mgr.State())
	}
	if n := len(h.dialer.URLs()); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}
}

func TestManager_DialFailureRetries(t *testing.T) {
	h := newHarness(t, "")
	h.dialer.QueueError(errors.New("connection refused"))
	h.mgr.Connect()
	h.loop.step(t)
	if h.mgr.State() != ReconnectPending {
		t.Fatalf("expected reconnect-pending, got %s", h.mgr.State())
	}
	if len(h.states) != 0 {
		t.Fatalf("never-connected session should not report a state change, got %v", h.states)
	}
	if h.mgr.LastError() == nil {
		t.Fatal("expected last error")
	}
	if len(h.loop.activeTimers()) != 1 {
		t.Fatal("expected a pending retry")
	}
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, "")
	sock := h.connect(t)
	sock.Fail(errors.New("boom"))
	h.loop.step(t)
	timers := h.loop.activeTimers()
	if len(timers) != 1 {
		t.Fatalf("expected pending retry, got %d", len(timers))
	}

	h.mgr.Disconnect()
	if h.mgr.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", h.mgr.State())
	}
	if len(h.loop.activeTimers()) != 0 {
		t.Fatal("retry should be stopped")
	}
	// Even a timer that slipped through must not reconnect.
	timers[0].fn()
	if h.mgr.State() != Disconnected || len(h.dialer.URLs()) != 1 {
		t.Fatalf("stale retry reconnected: state=%s dials=%d", h.mgr.State(), len(h.dialer.URLs()))
	}
}

func TestManager_DisconnectClosesSocket(t *testing.T) {
	h := newHarness(t, "")
	sock := h.connect(t)
	h.mgr.Disconnect()
	if !sock.Closed() {
		t.Fatal("socket should be closed")
	}
	if len(h.states) != 2 || h.states[1] {
		t.Fatalf("expected disconnected notification, got %v", h.states)
	}
	if err := h.mgr.Send(protocol.HeartbeatFrame()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_DeliversInboundFrames(t *testing.T) {
	h := newHarness(t, "")
	sock := h.connect(t)
	sock.EmitText(`{"type":"pong"}`)
	h.loop.step(t)
	if len(h.inbound) != 1 || h.inbound[0] != `{"type":"pong"}` {
		t.Fatalf("unexpected inbound: %v", h.inbound)
	}
}

func TestManager_StaleDialResultIsDiscarded(t *testing.T) {
	h := newHarness(t, "")
	h.mgr.Connect()
	h.mgr.Disconnect()
	h.loop.step(t)
	if h.mgr.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", h.mgr.State())
	}
	if sock := h.dialer.Last(); sock == nil || !sock.Closed() {
		t.Fatal("late socket should be closed")
	}
}

func TestManager_HeartbeatOnlyWhenConnected(t *testing.T) {
	h := newHarness(t, "")
	h.mgr.Heartbeat()
	sock := h.connect(t)
	h.mgr.Heartbeat()
	writes := waitWrites(t, sock, 2)
	if protocol.FrameType(writes[1]) != "heartbeat" {
		t.Fatalf("expected heartbeat, got %v", writes)
	}
}
