package global

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigStore_LoadOrInit_CreatesDefaultProfile(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)
	store.newID = func() string { return "client-1" }

	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit failed: %v", err)
	}
	if cfg.Profile.ClientID != "client-1" {
		t.Fatalf("expected generated client id, got %q", cfg.Profile.ClientID)
	}
	if cfg.Profile.Name != "synapse-dashboard" || cfg.Profile.Role != "observer" || cfg.Profile.Environment != "cli" {
		t.Fatalf("unexpected default profile: %+v", cfg.Profile)
	}

	b, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("read config.toml failed: %v", err)
	}
	text := string(b)
	if !strings.Contains(text, "[profile]") {
		t.Fatalf("expected profile table in toml, got: %s", text)
	}
	if !strings.Contains(text, "client_id = 'client-1'") && !strings.Contains(text, "client_id = \"client-1\"") {
		t.Fatalf("expected client_id in toml, got: %s", text)
	}
}

func TestConfigStore_ClientIDIsStableAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	n := 0
	store := NewConfigStore(dir)
	store.newID = func() string {
		n++
		return "id-" + string(rune('0'+n))
	}
	first, err := store.LoadOrInit()
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.LoadOrInit()
	if err != nil {
		t.Fatal(err)
	}
	if first.Profile.ClientID != second.Profile.ClientID || n != 1 {
		t.Fatalf("client id changed: %q -> %q (generated %d)", first.Profile.ClientID, second.Profile.ClientID, n)
	}
}

func TestConfigStore_SaveNormalizes(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)
	err := store.Save(GlobalConfig{
		Profile: Profile{ClientID: "c", Name: "  ops  ", Role: "Planner", Capabilities: []string{"observe", " observe ", "", "reset"}},
		Hub:     HubOverrides{URL: " ws://hub:3100 ", Transport: "carrier-pigeon"},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Profile.Name != "ops" || cfg.Profile.Role != "planner" {
		t.Fatalf("unexpected profile: %+v", cfg.Profile)
	}
	if len(cfg.Profile.Capabilities) != 2 {
		t.Fatalf("expected deduped capabilities, got %v", cfg.Profile.Capabilities)
	}
	if cfg.Hub.URL != "ws://hub:3100" || cfg.Hub.Transport != "" {
		t.Fatalf("unexpected hub overrides: %+v", cfg.Hub)
	}
}
