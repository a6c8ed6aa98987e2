package application

import (
	"context"
	"log/slog"

	"synapse/cli/internal/config"
	"synapse/cli/internal/transport"
)

// StartOptions carries everything StartApplication needs to build the
// client. Zero values fall back to config defaults.
type StartOptions struct {
	Config config.Config
	Logger *slog.Logger
	Hooks  Hooks
}

type Hooks struct {
	// Consumer runs next to the engine. When it returns the whole
	// application stops.
	Consumer func(ctx context.Context, app *Application) error
	// Dialer replaces the transport chosen from config.
	Dialer transport.Dialer
}
