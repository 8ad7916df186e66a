package appconfig

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes every
// successfully loaded version to onChange. A config that fails to load is
// logged and skipped. Watching stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		path = defaultPath
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors replace the file, so the directory is watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}
	log := pslog.Ctx(ctx).With("config", path)
	go func() {
		defer func() { _ = watcher.Close() }()
		timer := time.NewTimer(0)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			case <-timer.C:
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed", "err", err)
					continue
				}
				log.Info("config reloaded")
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", "err", err)
			}
		}
	}()
	return nil
}
