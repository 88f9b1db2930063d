package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the scheduler config file whenever it changes on disk and
// hands every valid, changed version to apply. Invalid files are logged and ignored.
type Watcher struct {
	path   string
	apply  func(domain.SchedulerConfig) error
	logger *slog.Logger

	mu   sync.Mutex
	last domain.SchedulerConfig
}

func NewWatcher(path string, initial domain.SchedulerConfig, apply func(domain.SchedulerConfig) error, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:   path,
		apply:  apply,
		logger: logger.With("component", "config_watcher", "path", path),
		last:   initial,
	}
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// editors that replace the file via rename are picked up.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("config watcher started")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	file := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher shut down")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.Reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// Reload re-reads the file and applies it when it parses, validates and differs
// from the last applied version.
func (w *Watcher) Reload() {
	b, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config read failed", "error", err)
		return
	}
	cfg, err := ParseScheduler(b)
	if err != nil {
		w.logger.Warn("config rejected", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if cfg == w.last {
		w.logger.Debug("config unchanged, skipping")
		return
	}
	if err := w.apply(cfg); err != nil {
		w.logger.Warn("config apply failed", "error", err)
		return
	}
	w.last = cfg
	w.logger.Info("config reloaded",
		"max_concurrent_schedules", cfg.MaxConcurrentSchedules,
		"poll_interval", cfg.PollInterval,
		"enabled", cfg.Enabled,
	)
}
