package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

var ErrFakeClosed = errors.New("fake socket closed")

// FakeSocket is an in-memory Socket for tests. Frames pushed with EmitText
// are returned by ReadText; written frames are recorded.
type FakeSocket struct {
	readCh chan string
	errCh  chan error
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	writes   []string
	writeErr error
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{
		readCh: make(chan string, 64),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (f *FakeSocket) EmitText(text string) {
	select {
	case <-f.done:
	case f.readCh <- text:
	}
}

// Fail makes the next ReadText return err, as a dropped connection would.
func (f *FakeSocket) Fail(err error) {
	select {
	case f.errCh <- err:
	default:
	}
}

func (f *FakeSocket) SetWriteError(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case text := <-f.readCh:
		return text, nil
	default:
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-f.done:
		return "", io.EOF
	case err := <-f.errCh:
		return "", err
	case text := <-f.readCh:
		return text, nil
	}
}

func (f *FakeSocket) WriteText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.Closed() {
		return ErrFakeClosed
	}
	f.writes = append(f.writes, text)
	return nil
}

func (f *FakeSocket) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *FakeSocket) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *FakeSocket) Closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// FakeDialer hands out queued results in order, then fresh FakeSockets.
type FakeDialer struct {
	mu      sync.Mutex
	queue   []fakeDial
	urls    []string
	sockets []*FakeSocket
	notify  chan struct{}
}

type fakeDial struct {
	sock *FakeSocket
	err  error
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{notify: make(chan struct{}, 64)}
}

func (d *FakeDialer) QueueSocket(sock *FakeSocket) {
	d.mu.Lock()
	d.queue = append(d.queue, fakeDial{sock: sock})
	d.mu.Unlock()
}

func (d *FakeDialer) QueueError(err error) {
	d.mu.Lock()
	d.queue = append(d.queue, fakeDial{err: err})
	d.mu.Unlock()
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	var next fakeDial
	if len(d.queue) > 0 {
		next = d.queue[0]
		d.queue = d.queue[1:]
	} else {
		next.sock = NewFakeSocket()
	}
	if next.sock != nil {
		d.sockets = append(d.sockets, next.sock)
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	if next.err != nil {
		return nil, next.err
	}
	return next.sock, nil
}

// Dialed is signalled after every Dial call.
func (d *FakeDialer) Dialed() <-chan struct{} {
	return d.notify
}

func (d *FakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Last returns the most recently handed out socket, or nil.
func (d *FakeDialer) Last() *FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}
