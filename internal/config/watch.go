package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/barff/frankd/internal/logging"
)

// reloadDebounce absorbs the burst of events editors emit for one save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes and passes each
// successfully parsed and validated result to onChange. It watches the parent
// directory so that editors which replace the file by rename are noticed.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	log := logging.WithComponent("config")
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", slog.Any("error", err))

		case <-pending:
			pending = nil
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("config reload failed", slog.String("path", abs), slog.Any("error", err))
				continue
			}
			if err := cfg.Validate(); err != nil {
				log.Warn("reloaded config is invalid, keeping previous", slog.Any("error", err))
				continue
			}
			log.Info("config reloaded", slog.String("path", abs))
			onChange(cfg)
		}
	}
}
