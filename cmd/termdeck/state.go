package main

import (
	"context"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/core"
	"pkt.systems/termdeck/internal/appconfig"
	"pkt.systems/termdeck/internal/persist"
	"pkt.systems/termdeck/schema"
)

// restoreTabs reopens the layout saved by the previous run. Saved connections
// are looked up by name so their secrets come from the config; password tabs
// with no password available are skipped.
func restoreTabs(ctx context.Context, mgr *core.Manager, store *persist.Store, cfg appconfig.Config, logger pslog.Logger) int {
	state, ok, err := store.Load()
	if err != nil {
		logger.Warn("deck restore failed", "path", store.Path(), "err", err)
		return 0
	}
	if !ok {
		return 0
	}
	var active schema.TabID
	opened := 0
	for i, saved := range state.Tabs {
		conn := saved.Connection
		if conn.Name != "" {
			if named, ok := cfg.Connection(conn.Name); ok {
				conn = named
			}
		}
		if conn.Auth == schema.AuthPassword && conn.Password == "" {
			logger.Info("deck restore skipped tab", "tab", saved.Name, "reason", "password required")
			continue
		}
		snap, err := mgr.OpenTerminal(ctx, conn)
		if err != nil {
			logger.Warn("deck restore tab failed", "tab", saved.Name, "err", err)
			continue
		}
		if saved.Name != "" && schema.TabName(saved.Name) != snap.Name {
			_ = mgr.Rename(snap.ID, saved.Name)
		}
		if i == state.Active {
			active = snap.ID
		}
		opened++
	}
	if active != "" {
		_ = mgr.Activate(active)
	}
	logger.Info("deck restored", "tabs", opened, "saved", len(state.Tabs))
	return opened
}

func saveTabs(mgr *core.Manager, store *persist.Store, logger pslog.Logger) {
	layout := mgr.Layout()
	state := persist.DeckState{Active: -1, Tabs: make([]persist.TabState, 0, len(layout)), SavedAt: time.Now().UTC()}
	for i, t := range layout {
		state.Tabs = append(state.Tabs, persist.TabState{Name: string(t.Name), Connection: t.Connection})
		if t.Active {
			state.Active = i
		}
	}
	if err := store.Save(state); err != nil {
		logger.Warn("deck save failed", "path", store.Path(), "err", err)
	}
}
