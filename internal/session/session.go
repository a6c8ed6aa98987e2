// Package session owns the hub connection lifecycle: dial, registration,
// resumption token exchange and fixed-delay reconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"synapse/cli/internal/protocol"
	"synapse/cli/internal/transport"
)

var ErrNotConnected = errors.New("not connected")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectPending
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectPending:
		return "reconnect-pending"
	default:
		return "disconnected"
	}
}

// Loop is the single goroutine that owns session state. Post and the
// functions passed to AfterFunc run on it.
type Loop interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

type TokenStore interface {
	Token() (string, error)
	SaveToken(token string) error
}

// Profile is what the client announces about itself on registration.
type Profile struct {
	ClientID     string
	Name         string
	Environment  string
	Role         string
	Capabilities []string
}

type Options struct {
	Dialer transport.Dialer
	// URL is evaluated on every dial so it can follow the selected workspace.
	URL            func() string
	WorkspaceID    func() string
	Loop           Loop
	Tokens         TokenStore
	Profile        Profile
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Logger         *slog.Logger

	OnStateChange func(connected bool)
	OnMessage     func(raw string)
}

// Manager is the connection state machine. Every exported method must be
// called on the loop.
type Manager struct {
	opts   Options
	logger *slog.Logger

	state State
	gen   uint64
	sock  transport.Socket
	out   chan string
	stop  context.CancelFunc

	retryGen  uint64
	stopRetry func() bool
	lastErr   error
}

func New(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.URL == nil {
		opts.URL = func() string { return "" }
	}
	if opts.WorkspaceID == nil {
		opts.WorkspaceID = func() string { return "" }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{opts: opts, logger: logger}
}

func (m *Manager) State() State {
	return m.state
}

func (m *Manager) Connected() bool {
	return m.state == Connected
}

// LastError is the most recent transport failure, cleared on a successful
// connection.
func (m *Manager) LastError() error {
	return m.lastErr
}

// Status is a short human-readable description of the connection.
func (m *Manager) Status() string {
	switch m.state {
	case ReconnectPending:
		if m.lastErr != nil {
			return fmt.Sprintf("reconnecting in %s: %v", m.opts.ReconnectDelay, m.lastErr)
		}
		return fmt.Sprintf("reconnecting in %s", m.opts.ReconnectDelay)
	default:
		return m.state.String()
	}
}

// Connect starts a dial unless one is in flight or the session is open.
// A pending retry is replaced by an immediate dial.
func (m *Manager) Connect() {
	switch m.state {
	case Connecting, Connected:
		return
	case ReconnectPending:
		m.cancelRetry()
	}
	m.gen++
	gen := m.gen
	m.state = Connecting
	url := m.opts.URL()

	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	m.logger.Info("hub dial started", "url", url, "gen", gen)
	go func() {
		dctx, dcancel := context.WithTimeout(ctx, m.opts.DialTimeout)
		sock, err := m.opts.Dialer.Dial(dctx, url)
		dcancel()
		m.opts.Loop.Post(func() { m.dialed(ctx, gen, sock, err) })
	}()
}

// Disconnect tears the session down and cancels any pending retry.
func (m *Manager) Disconnect() {
	m.cancelRetry()
	wasConnected := m.state == Connected
	m.gen++
	m.teardown()
	m.state = Disconnected
	if wasConnected {
		m.emitState(false)
	}
}

// Reconnect drops the current connection and dials again immediately.
func (m *Manager) Reconnect() {
	m.Disconnect()
	m.Connect()
}

// HandleAck persists a token carried by a registration ack and asks for
// the blueprint when the ack did not include one.
func (m *Manager) HandleAck(ack protocol.Ack) {
	if ack.SessionToken != "" && m.opts.Tokens != nil {
		if err := m.opts.Tokens.SaveToken(ack.SessionToken); err != nil {
			m.logger.Warn("session token save failed", "err", err)
		}
	}
	if ack.Blueprint == nil {
		_ = m.Send(protocol.GetBlueprintFrame())
		_ = m.Send(protocol.SubscribeFrame())
	}
}

func (m *Manager) Heartbeat() {
	if m.state == Connected {
		_ = m.Send(protocol.HeartbeatFrame())
	}
}

// Send queues text for the writer goroutine of the open connection.
func (m *Manager) Send(text string) error {
	if m.state != Connected || m.out == nil {
		return ErrNotConnected
	}
	select {
	case m.out <- text:
		return nil
	default:
		m.logger.Warn("outbound queue full, frame dropped", "type", protocol.FrameType(text))
		return errors.New("outbound queue full")
	}
}

func (m *Manager) dialed(ctx context.Context, gen uint64, sock transport.Socket, err error) {
	if gen != m.gen {
		if sock != nil {
			_ = sock.Close()
		}
		return
	}
	if err != nil {
		m.closed(gen, fmt.Errorf("dial: %w", err))
		return
	}

	m.sock = sock
	m.out = make(chan string, 64)
	m.state = Connected
	m.lastErr = nil
	m.logger.Info("hub connected", "gen", gen)

	go m.writeLoop(ctx, gen, sock, m.out)
	if err := m.Send(m.registerFrame()); err != nil {
		m.logger.Warn("register frame not queued", "err", err)
	}
	m.emitState(true)

	conn := transport.NewConn(sock)
	conn.OnText(func(text string) {
		m.opts.Loop.Post(func() {
			if gen == m.gen && m.opts.OnMessage != nil {
				m.opts.OnMessage(text)
			}
		})
	})
	go func() {
		err := conn.Run(ctx)
		if err == nil {
			err = io.EOF
		}
		m.opts.Loop.Post(func() { m.closed(gen, err) })
	}()
}

func (m *Manager) writeLoop(ctx context.Context, gen uint64, sock transport.Socket, out <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-out:
			if err := sock.WriteText(ctx, text); err != nil {
				m.opts.Loop.Post(func() { m.closed(gen, fmt.Errorf("write: %w", err)) })
				return
			}
		}
	}
}

// closed handles the end of connection gen, whichever goroutine saw it
// first. Later reports for the same generation find the retry pending and
// do not stack.
func (m *Manager) closed(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if m.state != Connecting && m.state != Connected {
		return
	}
	wasConnected := m.state == Connected
	m.teardown()
	m.lastErr = err
	m.logger.Warn("hub connection closed", "gen", gen, "err", err, "retry_in", m.opts.ReconnectDelay)
	if wasConnected {
		m.emitState(false)
	}
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	if m.state == ReconnectPending {
		return
	}
	m.state = ReconnectPending
	m.retryGen++
	rgen := m.retryGen
	m.stopRetry = m.opts.Loop.AfterFunc(m.opts.ReconnectDelay, func() {
		if rgen != m.retryGen || m.state != ReconnectPending {
			return
		}
		m.stopRetry = nil
		m.state = Disconnected
		m.Connect()
	})
}

func (m *Manager) cancelRetry() {
	m.retryGen++
	if m.stopRetry != nil {
		m.stopRetry()
		m.stopRetry = nil
	}
}

func (m *Manager) teardown() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	if m.sock != nil {
		_ = m.sock.Close()
		m.sock = nil
	}
	m.out = nil
}

func (m *Manager) emitState(connected bool) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(connected)
	}
}

func (m *Manager) registerFrame() string {
	token := ""
	if m.opts.Tokens != nil {
		t, err := m.opts.Tokens.Token()
		if err != nil {
			m.logger.Warn("session token load failed", "err", err)
		}
		token = t
	}
	p := m.opts.Profile
	frame := protocol.NewRegisterFrame(p.ClientID, token, p.Name, p.Environment, p.Role, p.Capabilities, m.opts.WorkspaceID())
	text, err := protocol.Encode(frame)
	if err != nil {
		m.logger.Error("register frame encode failed", "err", err)
		return ""
	}
	return text
}
