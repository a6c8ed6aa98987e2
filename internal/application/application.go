// Package application wires config, storage, the hub client and the engine
// into one runnable unit.
package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"synapse/cli/internal/clientstate"
	"synapse/cli/internal/config"
	"synapse/cli/internal/db"
	"synapse/cli/internal/engine"
	"synapse/cli/internal/global"
	"synapse/cli/internal/graph"
	"synapse/cli/internal/hubapi"
	"synapse/cli/internal/lifecycle"
	"synapse/cli/internal/session"
	"synapse/cli/internal/transport"
)

const dbFileName = "synapse.db"

type Application struct {
	cfg       config.Config
	configDir string
	dbDSN     string
	profile   global.GlobalConfig
	logger    *slog.Logger

	gdb    *gorm.DB
	state  *clientstate.Store
	api    *hubapi.Client
	engine *engine.Engine
	hooks  Hooks

	closeOnce sync.Once
	closeErr  error
}

func StartApplication(_ context.Context, opts StartOptions) (*Application, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	configDir, err := global.ResolveConfigDir(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("config dir: %w", err)
	}
	profile, err := global.NewConfigStore(configDir).LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load client profile: %w", err)
	}
	cfg = applyOverrides(cfg, profile.Hub)

	dsn := strings.TrimSpace(cfg.DBDSN)
	if dsn == "" {
		dsn = filepath.Join(configDir, dbFileName)
	}
	if err := db.InitGlobal(dsn); err != nil {
		return nil, fmt.Errorf("open client db: %w", err)
	}
	gdb, err := db.Global()
	if err != nil {
		return nil, err
	}
	state, err := clientstate.NewStore(gdb)
	if err != nil {
		_ = db.CloseGlobal()
		return nil, err
	}

	app := &Application{
		cfg:       cfg,
		configDir: configDir,
		dbDSN:     dsn,
		profile:   profile,
		logger:    logger,
		gdb:       gdb,
		state:     state,
		api:       hubapi.NewClient(cfg.HubHTTPURL, 10*time.Second),
		hooks:     opts.Hooks,
	}
	app.engine = engine.New(engine.Options{
		Dialer:            app.dialer(),
		HubURL:            cfg.HubWSURL,
		API:               app.api,
		Tokens:            state,
		Workspaces:        state,
		Profile:           sessionProfile(profile.Profile),
		WorkspaceID:       cfg.WorkspaceID,
		ReconnectDelay:    cfg.ReconnectDelay,
		RefetchInterval:   cfg.RefetchInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		TickInterval:      cfg.TickInterval,
		EventCapacity:     cfg.EventCapacity,
		Viewport:          graph.Viewport{Width: float64(cfg.ViewportWidth), Height: float64(cfg.ViewportHeight), Margin: 50},
		Logger:            logger,
	})
	logger.Info("application ready", "config_dir", configDir, "db", dsn, "transport", cfg.Transport, "hub", cfg.HubWSURL)
	return app, nil
}

func applyOverrides(cfg config.Config, hub global.HubOverrides) config.Config {
	if hub.URL != "" {
		cfg.HubWSURL = hub.URL
	}
	if hub.HTTPURL != "" {
		cfg.HubHTTPURL = hub.HTTPURL
	}
	if hub.Transport != "" {
		cfg.Transport = hub.Transport
	}
	return cfg
}

func sessionProfile(p global.Profile) session.Profile {
	return session.Profile{
		ClientID:     p.ClientID,
		Name:         p.Name,
		Environment:  p.Environment,
		Role:         p.Role,
		Capabilities: p.Capabilities,
	}
}

func (a *Application) dialer() transport.Dialer {
	if a.hooks.Dialer != nil {
		return a.hooks.Dialer
	}
	if a.cfg.Transport == config.TransportPoll {
		return transport.PollDialer{Source: a.api, Interval: a.cfg.PollInterval}
	}
	return transport.WSDialer{}
}

// Run starts the engine and the consumer, and blocks until either stops or
// ctx is cancelled. Storage is closed on the way out.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := lifecycle.NewManager()
	mgr.SetLogger(a.logger.With("module", "lifecycle"))
	mgr.AddRun("engine", a.engine.Run)
	if consumer := a.hooks.Consumer; consumer != nil {
		mgr.AddRun("consumer", func(ctx context.Context) error {
			defer cancel()
			return consumer(ctx, a)
		})
	}
	mgr.AddShutdown("close-db", func(context.Context) error {
		return a.closeDB()
	})
	mgr.AddShutdown("stop-engine", func(context.Context) error {
		a.engine.Stop()
		return nil
	})
	return mgr.StartAndWait(runCtx)
}

// Shutdown releases storage for applications that were never Run.
func (a *Application) Shutdown(context.Context) error {
	if a == nil {
		return nil
	}
	a.engine.Stop()
	return a.closeDB()
}

func (a *Application) closeDB() error {
	a.closeOnce.Do(func() {
		a.closeErr = db.CloseGlobal()
	})
	return a.closeErr
}

func (a *Application) Engine() *engine.Engine       { return a.engine }
func (a *Application) API() *hubapi.Client          { return a.api }
func (a *Application) State() *clientstate.Store    { return a.state }
func (a *Application) Profile() global.GlobalConfig { return a.profile }
func (a *Application) Config() config.Config        { return a.cfg }
func (a *Application) Logger() *slog.Logger         { return a.logger }
func (a *Application) ConfigDir() string            { return a.configDir }
func (a *Application) DBDSN() string                { return a.dbDSN }
