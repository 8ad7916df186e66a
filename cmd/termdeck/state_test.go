package main

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/core"
	"pkt.systems/termdeck/internal/actor"
	"pkt.systems/termdeck/internal/appconfig"
	"pkt.systems/termdeck/internal/persist"
	"pkt.systems/termdeck/schema"
)

func offlineManager(t *testing.T) *core.Manager {
	t.Helper()
	reg := actor.NewRegistry(actor.Options{Dialer: actor.DialerFunc(func(context.Context, schema.ConnectionConfig) (actor.Channel, error) {
		return nil, schema.NetworkError("dial", errors.New("offline"))
	})})
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	mgr, err := core.NewManager(schema.SessionConfig{}, core.ManagerDeps{Registry: reg})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func TestSaveAndRestoreTabs(t *testing.T) {
	ctx := context.Background()
	logger := pslog.Ctx(ctx)
	store, err := persist.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Connections = []schema.ConnectionConfig{{Name: "lab", Host: "lab.test", Port: 22, Username: "ops", Auth: schema.AuthPassword, Password: "from-config"}}

	first := offlineManager(t)
	if _, err := first.OpenTerminal(ctx, cfg.Connections[0]); err != nil {
		t.Fatalf("open lab: %v", err)
	}
	if _, err := first.OpenTerminal(ctx, schema.ConnectionConfig{Host: "adhoc.test", Username: "me", Password: "typed"}); err != nil {
		t.Fatalf("open adhoc: %v", err)
	}
	keyed, err := first.OpenTerminal(ctx, schema.ConnectionConfig{Host: "db.test", Username: "ops", Auth: schema.AuthAgent})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := first.Rename(keyed.ID, "database"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := first.Activate(keyed.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	saveTabs(first, store, logger)

	second := offlineManager(t)
	if n := restoreTabs(ctx, second, store, cfg, logger); n != 2 {
		t.Fatalf("expected two restored tabs, got %d", n)
	}
	layout := second.Layout()
	if len(layout) != 2 {
		t.Fatalf("unexpected layout %+v", layout)
	}
	if layout[0].Name != "lab" || layout[0].Connection.Password != "from-config" {
		t.Fatalf("expected the saved connection with its config password, got %+v", layout[0])
	}
	if layout[1].Name != "database" || layout[1].Connection.Auth != schema.AuthAgent {
		t.Fatalf("expected the renamed agent tab, got %+v", layout[1])
	}
	if !layout[1].Active {
		t.Fatalf("expected the active tab restored")
	}
}

func TestRestoreWithoutStateOpensNothing(t *testing.T) {
	ctx := context.Background()
	store, err := persist.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	mgr := offlineManager(t)
	if n := restoreTabs(ctx, mgr, store, cfg, pslog.Ctx(ctx)); n != 0 {
		t.Fatalf("expected nothing restored, got %d", n)
	}
	if len(mgr.Tabs()) != 1 {
		t.Fatalf("expected only the welcome tab")
	}
}
