package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile calls fn with the reloaded configuration each time the file at
// path is written, replaced or renamed into place. Bursts of events within
// debounce give one reload. A file that fails to load or validate is
// logged and skipped. WatchFile blocks until ctx is done.
func WatchFile(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, fn func(*Config)) error {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	defer fw.Close()
	// Editors replace files by rename, so the directory is watched.
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watch error", "path", path, "error", err)
		case <-timer.C:
			cfg, err := LoadFile(path)
			if err != nil {
				logger.Warn("config: reload rejected", "path", path, "error", err)
				continue
			}
			logger.Info("config: reloaded", "path", path, "pages", len(cfg.Pages))
			fn(cfg)
		}
	}
}
