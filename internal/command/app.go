package command

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"synapse/cli/internal/config"
)

type Deps struct {
	LoadConfig func() config.Config
	Out        io.Writer

	RunWatch        func(ctx context.Context, cfg config.Config) error
	RunStream       func(ctx context.Context, cfg config.Config, out io.Writer) error
	RunSnapshot     func(ctx context.Context, cfg config.Config, out io.Writer, asJSON bool) error
	ListWorkspaces  func(ctx context.Context, cfg config.Config, out io.Writer) error
	CreateWorkspace func(ctx context.Context, cfg config.Config, out io.Writer, name string, reset bool) error
	SelectWorkspace func(ctx context.Context, cfg config.Config, id string) error
	ResetSession    func(ctx context.Context, cfg config.Config) error
	ResetHub        func(ctx context.Context, cfg config.Config) error
	RunMigrateUp    func(ctx context.Context, cfg config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "synapse",
		Usage: "live view of a multi-agent coordination hub",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "hub", Usage: "hub websocket URL (SYNAPSE_HUB_URL)"},
			&cli.StringFlag{Name: "api", Usage: "hub REST base URL (SYNAPSE_HUB_HTTP_URL)"},
			&cli.StringFlag{Name: "transport", Usage: "ws or poll (SYNAPSE_TRANSPORT)"},
			&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "workspace id (SYNAPSE_WORKSPACE)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (SYNAPSE_LOG_LEVEL)"},
			&cli.StringFlag{Name: "config-dir", Usage: "config directory (SYNAPSE_CONFIG_DIR)"},
		},
		Action: func(ctx *cli.Context) error {
			return runWatch(ctx, deps)
		},
		Commands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "follow the hub in a terminal dashboard",
				Action: func(ctx *cli.Context) error {
					return runWatch(ctx, deps)
				},
			},
			{
				Name:  "stream",
				Usage: "log every hub event as a JSON line",
				Action: func(ctx *cli.Context) error {
					if deps.RunStream == nil {
						return errors.New("stream runner is not configured")
					}
					return deps.RunStream(ctx.Context, loadConfig(ctx, deps), out(deps))
				},
			},
			{
				Name:  "snapshot",
				Usage: "fetch and print the current hub state",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the raw snapshot as JSON"},
				},
				Action: func(ctx *cli.Context) error {
					if deps.RunSnapshot == nil {
						return errors.New("snapshot runner is not configured")
					}
					return deps.RunSnapshot(ctx.Context, loadConfig(ctx, deps), out(deps), ctx.Bool("json"))
				},
			},
			{
				Name:  "workspaces",
				Usage: "list, create or select hub workspaces",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list workspaces known to the hub",
						Action: func(ctx *cli.Context) error {
							if deps.ListWorkspaces == nil {
								return errors.New("workspace lister is not configured")
							}
							return deps.ListWorkspaces(ctx.Context, loadConfig(ctx, deps), out(deps))
						},
					},
					{
						Name:      "create",
						Usage:     "create a workspace",
						ArgsUsage: "<name>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "reset", Usage: "reset hub state for the new workspace"},
						},
						Action: func(ctx *cli.Context) error {
							name := strings.TrimSpace(ctx.Args().First())
							if name == "" {
								return errors.New("workspace name is required")
							}
							if deps.CreateWorkspace == nil {
								return errors.New("workspace creator is not configured")
							}
							return deps.CreateWorkspace(ctx.Context, loadConfig(ctx, deps), out(deps), name, ctx.Bool("reset"))
						},
					},
					{
						Name:      "select",
						Usage:     "remember a workspace for later runs (empty id clears it)",
						ArgsUsage: "[id]",
						Action: func(ctx *cli.Context) error {
							if deps.SelectWorkspace == nil {
								return errors.New("workspace selector is not configured")
							}
							return deps.SelectWorkspace(ctx.Context, loadConfig(ctx, deps), strings.TrimSpace(ctx.Args().First()))
						},
					},
				},
			},
			{
				Name:  "session",
				Usage: "manage stored session state",
				Subcommands: []*cli.Command{
					{
						Name:  "reset",
						Usage: "forget the resumption token and selected workspace",
						Action: func(ctx *cli.Context) error {
							if deps.ResetSession == nil {
								return errors.New("session reset is not configured")
							}
							return deps.ResetSession(ctx.Context, loadConfig(ctx, deps))
						},
					},
				},
			},
			{
				Name:  "hub",
				Usage: "hub maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "reset",
						Usage: "clear the hub's unscoped state",
						Action: func(ctx *cli.Context) error {
							if deps.ResetHub == nil {
								return errors.New("hub reset is not configured")
							}
							return deps.ResetHub(ctx.Context, loadConfig(ctx, deps))
						},
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							if deps.RunMigrateUp == nil {
								return errors.New("migrate up runner is not configured")
							}
							return deps.RunMigrateUp(ctx.Context, loadConfig(ctx, deps))
						},
					},
				},
			},
		},
	}
}

func runWatch(ctx *cli.Context, deps Deps) error {
	if deps.RunWatch == nil {
		return errors.New("watch runner is not configured")
	}
	return deps.RunWatch(ctx.Context, loadConfig(ctx, deps))
}

func out(deps Deps) io.Writer {
	if deps.Out != nil {
		return deps.Out
	}
	return os.Stdout
}

// loadConfig reads the environment, then lets global flags win.
func loadConfig(ctx *cli.Context, deps Deps) config.Config {
	var cfg config.Config
	if deps.LoadConfig != nil {
		cfg = deps.LoadConfig()
	} else {
		cfg = config.LoadConfig()
	}
	if v := flagValue(ctx, "hub"); v != "" {
		cfg.HubWSURL = strings.TrimRight(v, "/")
	}
	if v := flagValue(ctx, "api"); v != "" {
		cfg.HubHTTPURL = strings.TrimRight(v, "/")
	}
	switch strings.ToLower(flagValue(ctx, "transport")) {
	case config.TransportWS:
		cfg.Transport = config.TransportWS
	case config.TransportPoll:
		cfg.Transport = config.TransportPoll
	}
	if v := flagValue(ctx, "workspace"); v != "" {
		cfg.WorkspaceID = v
	}
	if v := flagValue(ctx, "log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := flagValue(ctx, "config-dir"); v != "" {
		cfg.ConfigDir = v
	}
	return cfg
}

// flagValue looks the flag up through the lineage so root flags work after
// a subcommand name too.
func flagValue(ctx *cli.Context, name string) string {
	for _, c := range ctx.Lineage() {
		if c.IsSet(name) {
			return strings.TrimSpace(c.String(name))
		}
	}
	return ""
}
