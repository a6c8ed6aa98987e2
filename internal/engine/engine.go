// Package engine runs the sync loop: one goroutine owns the session, the
// mirror and the graph, and publishes copies for readers after every step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"synapse/cli/internal/eventlog"
	"synapse/cli/internal/graph"
	"synapse/cli/internal/hubapi"
	"synapse/cli/internal/mirror"
	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
	"synapse/cli/internal/session"
	"synapse/cli/internal/transport"
)

var ErrAlreadyRunning = errors.New("engine already running")

// API is the REST surface the engine falls back to.
type API interface {
	GetSnapshot(ctx context.Context, workspaceID string) (model.Snapshot, error)
	ListWorkspaces(ctx context.Context) ([]model.Workspace, error)
}

// WorkspaceStore persists the selected workspace between runs.
type WorkspaceStore interface {
	WorkspaceID() (string, error)
	SaveWorkspaceID(id string) error
	ClearWorkspaceID() error
}

type Options struct {
	Dialer     transport.Dialer
	HubURL     string
	API        API
	Tokens     session.TokenStore
	Workspaces WorkspaceStore
	Profile    session.Profile
	// WorkspaceID, when set, wins over the stored selection.
	WorkspaceID string

	ReconnectDelay    time.Duration
	RefetchInterval   time.Duration
	RefetchTimeout    time.Duration
	HeartbeatInterval time.Duration
	TickInterval      time.Duration
	LockSweepInterval time.Duration

	EventCapacity int
	Viewport      graph.Viewport
	Compact       bool
	Seed          uint64

	Now    func() time.Time
	Logger *slog.Logger
}

// view is what readers see. It is replaced, never mutated, after publish.
type view struct {
	snapshot    *model.Snapshot
	events      []model.DomainEvent
	graph       graph.Graph
	connected   bool
	lastErr     error
	status      string
	workspaces  []model.Workspace
	workspaceID string
	cursor      int64
	viewport    graph.Viewport
}

type Engine struct {
	opts   Options
	logger *slog.Logger

	tasks    chan func()
	stopCh   chan struct{}
	done     chan struct{}
	running  atomic.Bool
	stopOnce sync.Once

	// Loop-owned.
	ctx           context.Context
	sess          *session.Manager
	mirror        *mirror.Mirror
	model         *graph.Model
	sim           *graph.Simulator
	workspaceID   string
	workspaces    []model.Workspace
	fetchErr      error
	hubErr        error
	refetchGen    uint64
	refetchCancel context.CancelFunc
	listGen       uint64
	stateDirty    bool
	graphDirty    bool

	mu   sync.RWMutex
	pub  view
	subs map[int]func(model.DomainEvent)
	next int
}

func New(opts Options) *Engine {
	if opts.RefetchInterval <= 0 {
		opts.RefetchInterval = 5 * time.Second
	}
	if opts.RefetchTimeout <= 0 {
		opts.RefetchTimeout = 10 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 16 * time.Millisecond
	}
	if opts.LockSweepInterval <= 0 {
		opts.LockSweepInterval = time.Second
	}
	if opts.EventCapacity <= 0 {
		opts.EventCapacity = eventlog.DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		opts:   opts,
		logger: logger.With("module", "engine"),
		tasks:  make(chan func(), 256),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		sim:    graph.NewSimulator(),
		subs:   map[int]func(model.DomainEvent){},
	}
	e.mirror = mirror.New(mirror.Options{
		Log:      eventlog.New(opts.EventCapacity),
		Logger:   logger.With("module", "mirror"),
		Now:      opts.Now,
		OnAppend: e.notify,
	})
	e.model = graph.NewModel(graph.Options{Viewport: opts.Viewport, Compact: opts.Compact, Seed: opts.Seed})
	e.sess = session.New(session.Options{
		Dialer:         opts.Dialer,
		URL:            e.dialURL,
		WorkspaceID:    func() string { return e.workspaceID },
		Loop:           e,
		Tokens:         opts.Tokens,
		Profile:        opts.Profile,
		ReconnectDelay: opts.ReconnectDelay,
		Logger:         logger.With("module", "session"),
		OnStateChange:  e.connectionChanged,
		OnMessage:      e.handleFrame,
	})
	e.pub = view{status: session.Disconnected.String(), graph: e.model.Graph(), viewport: e.model.Viewport()}
	return e
}

// Post queues fn to run on the loop. After the loop exits it is dropped.
func (e *Engine) Post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

// AfterFunc runs fn on the loop once d has elapsed.
func (e *Engine) AfterFunc(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, func() { e.Post(fn) })
	return t.Stop
}

// Run drives the loop until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctx = runCtx

	refetch := time.NewTicker(e.opts.RefetchInterval)
	defer refetch.Stop()
	anim := time.NewTicker(e.opts.TickInterval)
	defer anim.Stop()
	heartbeat := time.NewTicker(e.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(e.opts.LockSweepInterval)
	defer sweep.Stop()

	e.start()
	e.publish()
	for {
		select {
		case <-runCtx.Done():
			e.shutdown()
			return nil
		case <-e.stopCh:
			e.shutdown()
			return nil
		case fn := <-e.tasks:
			fn()
		case <-refetch.C:
			e.refetch()
		case <-anim.C:
			e.animate()
		case <-heartbeat.C:
			e.sess.Heartbeat()
		case <-sweep.C:
			if e.mirror.ExpireLocks(e.opts.Now()) > 0 {
				e.derive()
			}
		}
		e.publish()
	}
}

// Stop ends Run. Safe to call more than once and from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) SelectWorkspace(id string) {
	e.Post(func() { e.selectWorkspace(id) })
}

func (e *Engine) Reconnect() {
	e.Post(func() {
		e.logger.Info("manual reconnect")
		e.sess.Reconnect()
		e.stateDirty = true
	})
}

func (e *Engine) RefreshWorkspaces() {
	e.Post(e.refreshWorkspaces)
}

// Refetch requests a full snapshot now instead of waiting for the ticker.
func (e *Engine) Refetch() {
	e.Post(e.refetch)
}

func (e *Engine) Resize(vp graph.Viewport) {
	e.Post(func() {
		e.model.Resize(vp)
		e.graphDirty = true
	})
}

// Subscribe registers fn for every event appended to the log. fn runs on
// the loop and must not block.
func (e *Engine) Subscribe(fn func(model.DomainEvent)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) start() {
	e.workspaceID = e.opts.WorkspaceID
	if e.workspaceID == "" && e.opts.Workspaces != nil {
		id, err := e.opts.Workspaces.WorkspaceID()
		if err != nil {
			e.logger.Warn("stored workspace load failed", "err", err)
		}
		e.workspaceID = id
	}
	e.logger.Info("engine started", "workspace", e.workspaceID, "hub", e.opts.HubURL)
	e.sess.Connect()
	e.refetch()
	e.refreshWorkspaces()
	e.stateDirty = true
}

func (e *Engine) shutdown() {
	e.cancelRefetch()
	e.sess.Disconnect()
	e.stateDirty = true
	e.publish()
	e.logger.Info("engine stopped")
}

func (e *Engine) dialURL() string {
	if e.workspaceID == "" {
		return e.opts.HubURL
	}
	u, err := url.Parse(e.opts.HubURL)
	if err != nil {
		return e.opts.HubURL
	}
	q := u.Query()
	q.Set("workspace", e.workspaceID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Engine) connectionChanged(connected bool) {
	e.logger.Info("connection state changed", "connected", connected, "status", e.sess.Status())
	e.stateDirty = true
}

func (e *Engine) handleFrame(raw string) {
	in, err := protocol.Decode([]byte(raw))
	if err != nil {
		e.logger.Warn("inbound frame dropped", "err", err)
		if !errors.Is(err, protocol.ErrUnknownKind) {
			e.hubErr = fmt.Errorf("decode: %w", err)
			e.stateDirty = true
		}
		return
	}
	switch body := in.Body.(type) {
	case protocol.Ack:
		e.hubErr = nil
		e.sess.HandleAck(body)
	case protocol.HubError:
		e.logger.Warn("hub reported error", "code", body.Code, "message", body.Message)
		e.hubErr = fmt.Errorf("hub: %s", body.Message)
		e.stateDirty = true
	}
	outcome, err := e.mirror.Apply(in)
	if err != nil {
		e.logger.Warn("inbound message not applied", "kind", in.Kind, "err", err)
		return
	}
	e.logger.Debug("inbound message", "kind", in.Kind, "outcome", outcome.String(), "cursor", e.mirror.Cursor())
	switch outcome {
	case mirror.Applied, mirror.Replaced:
		e.derive()
	}
}

func (e *Engine) derive() {
	e.model.Derive(e.mirror.Snapshot(), e.mirror.Events(0))
	e.stateDirty = true
	e.graphDirty = true
}

func (e *Engine) animate() {
	if e.model.Len() == 0 {
		return
	}
	e.model.Tick(e.sim)
	e.graphDirty = true
}

func (e *Engine) refetch() {
	if e.opts.API == nil || e.ctx == nil {
		return
	}
	if e.refetchCancel != nil {
		return
	}
	e.refetchGen++
	gen, ws := e.refetchGen, e.workspaceID
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.RefetchTimeout)
	e.refetchCancel = cancel
	go func() {
		snap, err := e.opts.API.GetSnapshot(ctx, ws)
		cancel()
		e.Post(func() { e.refetched(gen, ws, snap, err) })
	}()
}

func (e *Engine) refetched(gen uint64, ws string, snap model.Snapshot, err error) {
	if gen != e.refetchGen || ws != e.workspaceID {
		e.logger.Debug("stale refetch dropped", "workspace", ws, "gen", gen)
		return
	}
	e.refetchCancel = nil
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
		case errors.Is(err, hubapi.ErrWorkspaceNotFound):
			e.workspaceLost(ws)
		default:
			e.logger.Warn("refetch failed", "workspace", ws, "err", err)
			e.fetchErr = fmt.Errorf("refetch: %w", err)
			e.stateDirty = true
		}
		return
	}
	if e.fetchErr != nil {
		e.fetchErr = nil
		e.stateDirty = true
	}
	if e.mirror.Reconcile(snap) == mirror.Replaced {
		e.logger.Debug("refetch reconciled", "workspace", ws, "cursor", snap.Cursor)
		e.derive()
	}
}

func (e *Engine) cancelRefetch() {
	e.refetchGen++
	if e.refetchCancel != nil {
		e.refetchCancel()
		e.refetchCancel = nil
	}
}

func (e *Engine) workspaceLost(ws string) {
	e.logger.Warn("workspace not found, selection cleared", "workspace", ws)
	e.workspaceID = ""
	if e.opts.Workspaces != nil {
		if err := e.opts.Workspaces.ClearWorkspaceID(); err != nil {
			e.logger.Warn("stored workspace clear failed", "err", err)
		}
	}
	e.resetState()
	e.fetchErr = hubapi.ErrWorkspaceNotFound
	e.refreshWorkspaces()
	e.sess.Reconnect()
}

func (e *Engine) selectWorkspace(id string) {
	if id == e.workspaceID {
		return
	}
	e.logger.Info("workspace selected", "from", e.workspaceID, "to", id)
	e.cancelRefetch()
	e.workspaceID = id
	if e.opts.Workspaces != nil {
		var err error
		if id == "" {
			err = e.opts.Workspaces.ClearWorkspaceID()
		} else {
			err = e.opts.Workspaces.SaveWorkspaceID(id)
		}
		if err != nil {
			e.logger.Warn("stored workspace save failed", "err", err)
		}
	}
	e.fetchErr = nil
	e.hubErr = nil
	e.resetState()
	e.sess.Reconnect()
	e.refetch()
}

func (e *Engine) resetState() {
	e.mirror.Reset()
	e.derive()
}

func (e *Engine) refreshWorkspaces() {
	if e.opts.API == nil || e.ctx == nil {
		return
	}
	e.listGen++
	gen := e.listGen
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.RefetchTimeout)
	go func() {
		list, err := e.opts.API.ListWorkspaces(ctx)
		cancel()
		e.Post(func() {
			if gen != e.listGen {
				return
			}
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					e.logger.Warn("workspace list failed", "err", err)
				}
				return
			}
			e.workspaces = list
			e.stateDirty = true
		})
	}()
}

func (e *Engine) notify(evt model.DomainEvent) {
	e.mu.RLock()
	subs := make([]func(model.DomainEvent), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(evt)
	}
}

func (e *Engine) lastError() error {
	switch {
	case e.fetchErr != nil:
		return e.fetchErr
	case e.hubErr != nil:
		return e.hubErr
	default:
		return e.sess.LastError()
	}
}

// publish swaps in a fresh view when the loop step changed something.
func (e *Engine) publish() {
	if !e.stateDirty && !e.graphDirty {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stateDirty {
		e.pub.snapshot = e.mirror.Snapshot()
		e.pub.events = e.mirror.Events(0)
		e.pub.connected = e.sess.Connected()
		e.pub.lastErr = e.lastError()
		e.pub.status = e.sess.Status()
		e.pub.workspaces = append([]model.Workspace(nil), e.workspaces...)
		e.pub.workspaceID = e.workspaceID
		e.pub.cursor = e.mirror.Cursor()
	}
	if e.graphDirty {
		e.pub.graph = e.model.Graph()
		e.pub.viewport = e.model.Viewport()
	}
	e.stateDirty = false
	e.graphDirty = false
}
