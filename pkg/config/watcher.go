package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the configuration file so sanitizer rule changes reach
// the resolver without a restart.
type Watcher struct {
	path     string
	mu       sync.RWMutex
	cfg      *Config
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher loads the initial config and prepares to watch its file.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	return &Watcher{path: path, cfg: cfg, watcher: watcher}, nil
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers a callback invoked after a successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = fn
}

// Start watches until the context is cancelled. Editors write config files in
// bursts, so reloads are debounced.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("Starting config file watcher", "path", w.path)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			slog.Info("Config watcher stopped")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			slog.Error("Config watcher error", "error", err)

		case <-debounce.C:
			if err := w.reload(); err != nil {
				// A broken edit keeps the previous config in force.
				slog.Error("Failed to reload config", "error", err)
			}
		}
	}
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()

	slog.Info("Configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
	return nil
}
