package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"synapse/cli/internal/application"
	"synapse/cli/internal/config"
	"synapse/cli/internal/db"
	"synapse/cli/internal/global"
	"synapse/cli/internal/logging"
	"synapse/cli/internal/model"
	"synapse/cli/internal/tui"
)

func newRuntimeLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    writer,
		Component: "synapse",
	})
}

// runWatch owns the terminal, so logs go to a file in the config dir.
func runWatch(ctx context.Context, cfg config.Config) error {
	logPath := cfg.LogFile
	if logPath == "" {
		dir, err := global.ResolveConfigDir(cfg.ConfigDir)
		if err != nil {
			return err
		}
		logPath = filepath.Join(dir, "synapse.log")
	}
	logger, closeLog, err := logging.NewFileLogger(logPath, logging.Options{Level: cfg.LogLevel, Component: "synapse"})
	if err != nil {
		return err
	}
	defer closeLog()

	app, err := application.StartApplication(ctx, application.StartOptions{
		Config: cfg,
		Logger: logger,
		Hooks: application.Hooks{
			Consumer: func(ctx context.Context, app *application.Application) error {
				p := tea.NewProgram(tui.New(app.Engine()), tea.WithAltScreen(), tea.WithContext(ctx))
				_, err := p.Run()
				if ctx.Err() != nil {
					return nil
				}
				return err
			},
		},
	})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// runStream writes one JSON line per event to out until interrupted.
func runStream(ctx context.Context, cfg config.Config, out io.Writer) error {
	events := logging.NewLogger(logging.Options{Level: "info", Writer: out, Component: "stream"})
	app, err := application.StartApplication(ctx, application.StartOptions{
		Config: cfg,
		Logger: newRuntimeLogger(cfg, os.Stderr),
		Hooks: application.Hooks{
			Consumer: func(ctx context.Context, app *application.Application) error {
				unsubscribe := app.Engine().Subscribe(func(evt model.DomainEvent) {
					events.Info("event",
						"id", evt.ID,
						"type", evt.Type,
						"agent_id", evt.AgentID,
						"path", evt.Path,
						"cursor", evt.Cursor,
						"remote_cursor", evt.RemoteCursor,
						"at", evt.Timestamp.Time,
						"payload", evt.Payload,
					)
				})
				defer unsubscribe()
				<-ctx.Done()
				return nil
			},
		},
	})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// openOneShot builds the application for commands that never run the engine.
func openOneShot(ctx context.Context, cfg config.Config) (*application.Application, error) {
	return application.StartApplication(ctx, application.StartOptions{
		Config: cfg,
		Logger: newRuntimeLogger(cfg, os.Stderr),
	})
}

func runSnapshot(ctx context.Context, cfg config.Config, out io.Writer, asJSON bool) error {
	app, err := openOneShot(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)

	ws, err := selectedWorkspace(app, cfg)
	if err != nil {
		return err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap, err := app.API().GetSnapshot(fetchCtx, ws)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return printSnapshot(out, ws, snap)
}

func selectedWorkspace(app *application.Application, cfg config.Config) (string, error) {
	if cfg.WorkspaceID != "" {
		return cfg.WorkspaceID, nil
	}
	return app.State().WorkspaceID()
}

func printSnapshot(out io.Writer, ws string, snap model.Snapshot) error {
	if ws == "" {
		ws = "(default)"
	}
	_, _ = fmt.Fprintf(out, "workspace %s  cursor %d\n", ws, snap.Cursor)
	if snap.Target != nil {
		_, _ = fmt.Fprintf(out, "target    %s\n", *snap.Target)
	}
	agents := reportTable("AGENT", "ROLE", "ONLINE", "TASK")
	for _, a := range snap.Agents {
		agents.Row(a.Name, string(a.Role), strconv.FormatBool(a.Online), a.CurrentTask)
	}
	locks := reportTable("LOCK", "PATH", "HOLDER", "EXPIRES")
	now := time.Now()
	for _, l := range snap.ActiveLocks(now) {
		expires := "-"
		if !l.ExpiresAt.IsZero() {
			expires = l.ExpiresAt.Time.Sub(now).Round(time.Second).String()
		}
		locks.Row(l.ID, l.TargetPath, l.AgentID, expires)
	}
	intents := reportTable("INTENT", "AGENT", "STATUS", "ACTION")
	for _, in := range snap.OpenIntents() {
		intents.Row(in.ID, in.AgentID, string(in.Status), in.Action)
	}
	for _, t := range []*table.Table{agents, locks, intents} {
		if _, err := fmt.Fprintf(out, "\n%s\n", t.Render()); err != nil {
			return err
		}
	}
	return nil
}

var reportCell = lipgloss.NewStyle().PaddingRight(2)

// reportTable is a borderless table whose rows start at column zero.
func reportTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		StyleFunc(func(_, _ int) lipgloss.Style { return reportCell }).
		Headers(headers...)
}

func listWorkspaces(ctx context.Context, cfg config.Config, out io.Writer) error {
	app, err := openOneShot(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)

	current, err := selectedWorkspace(app, cfg)
	if err != nil {
		return err
	}
	list, err := app.API().ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	t := reportTable(" ", "ID", "NAME", "AGENTS", "TARGET")
	for _, w := range list {
		mark := " "
		if w.ID == current {
			mark = "*"
		}
		target := ""
		if w.Target != nil {
			target = *w.Target
		}
		t.Row(mark, w.ID, w.Name, strconv.Itoa(w.Agents), target)
	}
	if current != "" && !slices.ContainsFunc(list, func(w model.Workspace) bool { return w.ID == current }) {
		t.Row("*", current, "(not on hub)", "", "")
	}
	_, err = fmt.Fprintf(out, "%s\n", t.Render())
	return err
}

func createWorkspace(ctx context.Context, cfg config.Config, out io.Writer, name string, reset bool) error {
	app, err := openOneShot(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)

	ws, err := app.API().CreateWorkspace(ctx, name, reset)
	if err != nil {
		return err
	}
	if err := app.State().SaveWorkspaceID(ws.ID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "created workspace %s (%s), now selected\n", ws.ID, ws.Name)
	return nil
}

func selectWorkspace(ctx context.Context, cfg config.Config, id string) error {
	app, err := openOneShot(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)
	if id == "" {
		return app.State().ClearWorkspaceID()
	}
	return app.State().SaveWorkspaceID(id)
}

func resetSession(ctx context.Context, cfg config.Config) error {
	app, err := openOneShot(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)
	return app.State().Reset()
}

func resetHub(ctx context.Context, cfg config.Config) error {
	app, err := openOneShot(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)
	if err := app.API().ResetHub(ctx); err != nil {
		return err
	}
	app.Logger().Info("hub state reset", "api", cfg.HubHTTPURL)
	return nil
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	dsn := cfg.DBDSN
	if dsn == "" {
		dir, err := global.ResolveConfigDir(cfg.ConfigDir)
		if err != nil {
			return err
		}
		dsn = filepath.Join(dir, "synapse.db")
	}
	if err := db.InitGlobal(dsn); err != nil {
		return err
	}
	return db.CloseGlobal()
}
