package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/florinutz/deltashare/metrics"
)

const reloadDebounce = 250 * time.Millisecond

// Reload re-reads the shares file into m. A file that fails to parse or
// validate leaves the current registry in place.
func Reload(m *Memory, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(path)
	if err == nil {
		err = m.Replace(cfg)
	}
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("error").Inc()
		logger.Error("shares reload failed, keeping previous registry", "path", path, "error", err)
		return err
	}
	metrics.RegistryReloads.WithLabelValues("ok").Inc()
	logger.Info("shares reloaded", "path", path, "shares", len(cfg.Shares))
	return nil
}

// Watch reloads m whenever the shares file at path changes, until ctx is
// done. The parent directory is watched so that editors replacing the file
// by rename are picked up. Bursts of events are coalesced.
func Watch(ctx context.Context, m *Memory, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "shares_watcher")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve shares file: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Debug("watching shares file", "path", abs)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("shares watcher error", "error", err)
		case <-timer.C:
			_ = Reload(m, abs, logger)
		}
	}
}
