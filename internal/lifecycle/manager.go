package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs long-lived jobs together and tears down in reverse order of
// registration once any of them stops.
type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewManager() *Manager {
	return &Manager{logger: slog.Default(), shutdownTimeout: 3 * time.Second}
}

func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs, shutdownJobs, logger, timeout := m.snapshot()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Debug("lifecycle job started", "job", j.name)
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("lifecycle job failed", "job", j.name, "err", err)
				errCh <- fmt.Errorf("%s: %w", j.name, err)
				cancelRuns()
				return
			}
			logger.Debug("lifecycle job stopped", "job", j.name)
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}

	<-doneCh
	if runErr == nil {
		select {
		case runErr = <-errCh:
		default:
		}
	}

	var shutdownErr error
	for i := len(shutdownJobs) - 1; i >= 0; i-- {
		j := shutdownJobs[i]
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := j.run(sctx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("lifecycle shutdown failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot() ([]job, []job, *slog.Logger, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]job, len(m.runJobs))
	copy(runs, m.runJobs)
	shutdowns := make([]job, len(m.shutdownJobs))
	copy(shutdowns, m.shutdownJobs)
	return runs, shutdowns, m.logger, m.shutdownTimeout
}
