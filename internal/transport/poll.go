package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"synapse/cli/internal/model"
	"synapse/cli/internal/protocol"
)

// StateSource is the subset of the REST client the polling transport needs.
type StateSource interface {
	GetSnapshot(ctx context.Context, workspaceID string) (model.Snapshot, error)
	GetChanges(ctx context.Context, workspaceID string, since int64) (protocol.Changes, error)
}

// PollDialer emulates the duplex channel over the REST endpoints. The dial
// URL only carries the workspace, as ?workspace=<id>.
type PollDialer struct {
	Source   StateSource
	Interval time.Duration
}

func (d PollDialer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	if d.Source == nil {
		return nil, fmt.Errorf("poll dialer has no state source")
	}
	workspace := ""
	if u, err := url.Parse(rawURL); err == nil {
		workspace = u.Query().Get("workspace")
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	// The first read delivers a full snapshot, so an unreachable hub
	// fails the dial rather than the first poll.
	snap, err := d.Source.GetSnapshot(ctx, workspace)
	if err != nil {
		return nil, err
	}
	frame, err := snapshotFrame(snap)
	if err != nil {
		return nil, err
	}
	s := &pollSocket{
		source:    d.Source,
		workspace: workspace,
		interval:  interval,
		since:     snap.Cursor,
		out:       make(chan string, 16),
		done:      make(chan struct{}),
	}
	s.out <- frame
	return s, nil
}

type pollSocket struct {
	source    StateSource
	workspace string
	interval  time.Duration

	out  chan string
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	since    int64
	needFull bool
}

func (s *pollSocket) ReadText(ctx context.Context) (string, error) {
	for {
		select {
		case text := <-s.out:
			return text, nil
		default:
		}

		s.mu.Lock()
		full := s.needFull
		s.needFull = false
		s.mu.Unlock()
		if full {
			return s.fetchFull(ctx)
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-s.done:
			timer.Stop()
			return "", io.EOF
		case text := <-s.out:
			timer.Stop()
			return text, nil
		case <-timer.C:
		}

		s.mu.Lock()
		since := s.since
		s.mu.Unlock()
		changes, err := s.source.GetChanges(ctx, s.workspace, since)
		if err != nil {
			return "", err
		}
		if !changes.Changed || changes.Version <= since {
			continue
		}
		if len(changes.Present) == 0 {
			return s.fetchFull(ctx)
		}
		s.mu.Lock()
		s.since = changes.Version
		s.mu.Unlock()
		return protocol.ChangesFrame(changes)
	}
}

func (s *pollSocket) fetchFull(ctx context.Context) (string, error) {
	snap, err := s.source.GetSnapshot(ctx, s.workspace)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if snap.Cursor > s.since {
		s.since = snap.Cursor
	}
	s.mu.Unlock()
	return snapshotFrame(snap)
}

// WriteText answers the frames a hub would answer. Polling has no session,
// so registration is acknowledged without a token.
func (s *pollSocket) WriteText(ctx context.Context, text string) error {
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}
	switch protocol.FrameType(text) {
	case "register", "connect":
		s.enqueue(`{"type":"registered"}`)
	case "heartbeat":
		s.enqueue(`{"type":"pong"}`)
	case "get_blueprint":
		s.mu.Lock()
		s.needFull = true
		s.mu.Unlock()
	}
	return nil
}

func (s *pollSocket) enqueue(text string) {
	select {
	case s.out <- text:
	default:
	}
}

func (s *pollSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type snapshotEnvelope struct {
	Type string `json:"type"`
	model.Snapshot
}

func snapshotFrame(snap model.Snapshot) (string, error) {
	b, err := json.Marshal(snapshotEnvelope{Type: string(protocol.KindSnapshot), Snapshot: snap})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
