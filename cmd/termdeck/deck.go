package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/core"
	"pkt.systems/termdeck/internal/actor"
	"pkt.systems/termdeck/internal/appconfig"
	"pkt.systems/termdeck/internal/eventbus"
	"pkt.systems/termdeck/internal/persist"
	"pkt.systems/termdeck/internal/sshkeys"
	"pkt.systems/termdeck/internal/transport"
	"pkt.systems/termdeck/internal/tui"
	"pkt.systems/termdeck/schema"
)

const (
	logFileName     = "termdeck.log"
	shutdownTimeout = 5 * time.Second
)

type deckOptions struct {
	cfgPath string
	initial []schema.ConnectionConfig
}

// runDeck owns the display for its lifetime. Logs go to a file under the
// state dir while the display holds the terminal.
func runDeck(ctx context.Context, cfg appconfig.Config, opts deckOptions) error {
	logger, closeLog, err := openLogFile(cfg.StateDir)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog.Close() }()
	ctx = pslog.ContextWithLogger(ctx, logger)

	identities, err := sshkeys.NewStore(cfg.SSH.IdentityBundle, cfg.SSH.IdentityDir, logger)
	if err != nil {
		return fmt.Errorf("identity store: %w", err)
	}
	reg := actor.NewRegistry(actorOptions(cfg, identities, logger))
	bus := eventbus.New(logger)
	mgr, err := core.NewManager(cfg.SessionDefaults(), core.ManagerDeps{
		Registry:  reg,
		EventSink: bus,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	events, unsubscribe := bus.Subscribe(eventbus.AllTabs)
	defer unsubscribe()

	var state *persist.Store
	if cfg.Session.RestoreTabs {
		if state, err = persist.NewStore(cfg.StateDir, logger); err != nil {
			return fmt.Errorf("deck state: %w", err)
		}
	}
	opened := 0
	for _, conn := range opts.initial {
		if _, err := mgr.OpenTerminal(ctx, conn); err != nil {
			return err
		}
		opened++
	}
	if state != nil && len(opts.initial) == 0 {
		opened = restoreTabs(ctx, mgr, state, cfg, logger)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if err := appconfig.Watch(watchCtx, opts.cfgPath, func(next appconfig.Config) {
		mgr.SetSessionConfig(next.SessionDefaults())
	}); err != nil {
		logger.Warn("config watch disabled", "err", err)
	}

	logger.Info("deck start", "tabs", opened+1, "saved_connections", len(cfg.Connections))
	runErr := tui.Run(ctx, mgr, tui.Options{
		Events:      events,
		Theme:       tui.ThemeByName(cfg.UI.Theme),
		Connections: cfg.Connections,
		Logger:      logger,
	})

	if state != nil {
		saveTabs(mgr, state, logger)
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("deck shutdown", "err", err)
	}
	if err := reg.Close(shutdownCtx); err != nil {
		logger.Warn("registry close", "err", err)
	}
	logger.Info("deck stop", "dropped_events", bus.Dropped())
	return runErr
}

func actorOptions(cfg appconfig.Config, identities *sshkeys.Store, logger pslog.Logger) actor.Options {
	return actor.Options{
		Dialer: actor.SSHDialer(transport.Options{
			Logger:         logger,
			DialTimeout:    cfg.DialTimeout(),
			KnownHostsPath: cfg.SSH.KnownHosts,
			StrictHostKeys: cfg.SSH.StrictHostKeys,
			Identities:     identities,
			AgentSocket:    cfg.SSH.AgentSocket,
		}),
		InboxDepth:      cfg.Actor.InboxDepth,
		MaxPendingBytes: cfg.Actor.MaxPendingBytes,
		ReadBufferSize:  cfg.Actor.ReadBuffer,
		Logger:          logger,
	}
}

func openLogFile(stateDir string) (pslog.Logger, io.Closer, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("state dir: %w", err)
	}
	path := filepath.Join(stateDir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(f),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, NoColor: true}),
	)
	return logger, f, nil
}
