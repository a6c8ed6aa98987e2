package application

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"synapse/cli/internal/config"
	"synapse/cli/internal/transport"
)

func testConfig(t *testing.T, name string) config.Config {
	t.Helper()
	return config.Config{
		HubWSURL:        "ws://hub.test",
		HubHTTPURL:      "http://127.0.0.1:1/api",
		Transport:       config.TransportWS,
		ConfigDir:       t.TempDir(),
		DBDSN:           "file:" + name + "?mode=memory&cache=shared",
		ReconnectDelay:  time.Hour,
		RefetchInterval: time.Hour,
	}
}

func TestStartApplication_BootstrapAndShutdown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "startapp_boot")
	app, err := StartApplication(ctx, StartOptions{Config: cfg, Hooks: Hooks{Dialer: transport.NewFakeDialer()}})
	if err != nil {
		t.Fatalf("start application failed: %v", err)
	}
	if app.DBDSN() != cfg.DBDSN {
		t.Fatalf("expected injected dsn kept, got %q", app.DBDSN())
	}
	if app.Profile().Profile.ClientID == "" {
		t.Fatal("expected a client id in the profile")
	}
	if _, err := os.Stat(filepath.Join(cfg.ConfigDir, "config.toml")); err != nil {
		t.Fatalf("expected config.toml written: %v", err)
	}
	if err := app.State().SaveWorkspaceID("w1"); err != nil {
		t.Fatalf("state store should be usable: %v", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown should be a no-op: %v", err)
	}
}

func TestStartApplication_DefaultDBLivesInConfigDir(t *testing.T) {
	cfg := testConfig(t, "unused")
	cfg.DBDSN = ""
	app, err := StartApplication(context.Background(), StartOptions{Config: cfg})
	if err != nil {
		t.Fatalf("start application failed: %v", err)
	}
	defer app.Shutdown(context.Background())
	if want := filepath.Join(cfg.ConfigDir, "synapse.db"); app.DBDSN() != want {
		t.Fatalf("expected %s, got %s", want, app.DBDSN())
	}
}

func TestStartApplication_ProfileOverridesHub(t *testing.T) {
	cfg := testConfig(t, "startapp_override")
	toml := "[hub]\nurl = 'ws://override:9000'\ntransport = 'poll'\n"
	if err := os.WriteFile(filepath.Join(cfg.ConfigDir, "config.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	app, err := StartApplication(context.Background(), StartOptions{Config: cfg})
	if err != nil {
		t.Fatalf("start application failed: %v", err)
	}
	defer app.Shutdown(context.Background())
	if app.Config().HubWSURL != "ws://override:9000" || app.Config().Transport != config.TransportPoll {
		t.Fatalf("expected profile overrides applied, got %+v", app.Config())
	}
	if _, ok := app.dialer().(transport.PollDialer); !ok {
		t.Fatalf("expected poll dialer, got %T", app.dialer())
	}
}

func TestApplication_ConsumerExitStopsRun(t *testing.T) {
	dialer := transport.NewFakeDialer()
	app, err := StartApplication(context.Background(), StartOptions{
		Config: testConfig(t, "startapp_consumer"),
		Hooks: Hooks{
			Dialer: dialer,
			Consumer: func(ctx context.Context, app *Application) error {
				deadline := time.After(2 * time.Second)
				for !app.Engine().Connected() {
					select {
					case <-deadline:
						return errors.New("engine never connected")
					case <-time.After(5 * time.Millisecond):
					}
				}
				return nil
			},
		},
	})
	if err != nil {
		t.Fatalf("start application failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after consumer exit")
	}
	select {
	case <-app.Engine().Done():
	default:
		t.Fatal("engine should be stopped")
	}
	if len(dialer.URLs()) == 0 {
		t.Fatal("expected the engine to dial the hub")
	}
}

func TestApplication_ConsumerErrorIsReported(t *testing.T) {
	boom := errors.New("terminal gone")
	app, err := StartApplication(context.Background(), StartOptions{
		Config: testConfig(t, "startapp_consumer_err"),
		Hooks: Hooks{
			Dialer:   transport.NewFakeDialer(),
			Consumer: func(context.Context, *Application) error { return boom },
		},
	})
	if err != nil {
		t.Fatalf("start application failed: %v", err)
	}
	if err := app.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected consumer error, got %v", err)
	}
}
