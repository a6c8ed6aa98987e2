package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"synapse/cli/internal/command"
	"synapse/cli/internal/config"
	"synapse/cli/internal/logging"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:      config.LoadConfig,
		Out:             os.Stdout,
		RunWatch:        runWatch,
		RunStream:       runStream,
		RunSnapshot:     runSnapshot,
		ListWorkspaces:  listWorkspaces,
		CreateWorkspace: createWorkspace,
		SelectWorkspace: selectWorkspace,
		ResetSession:    resetSession,
		ResetHub:        resetHub,
		RunMigrateUp:    runMigrateUp,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "synapse"}).Error("synapse failed", "err", err)
		os.Exit(1)
	}
}
