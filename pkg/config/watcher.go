// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the configuration files and reloads them when one changes.
// A reload that fails to load or validate keeps the previous configuration.
type Watcher struct {
	mu          sync.RWMutex
	opts        LoadOptions
	paths       []string
	interval    time.Duration
	lastModTime map[string]time.Time
	config      *Config
	listeners   []func(*Config)
	stopOnce    sync.Once
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher loads the configuration described by opts and prepares to watch
// its file and profile overlay.
func NewWatcher(opts LoadOptions, wopts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		opts:        opts,
		interval:    time.Second,
		lastModTime: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range wopts {
		opt(w)
	}

	if opts.Path != "" {
		w.paths = append(w.paths, opts.Path)
		if overlay := profileConfigPath(opts.Path, opts.Profile); overlay != "" {
			w.paths = append(w.paths, overlay)
		}
	}
	for _, path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			w.lastModTime[path] = info.ModTime()
		}
	}

	cfg, err := w.load()
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers a callback run after each successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops a started watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if last, ok := w.lastModTime[path]; !ok || info.ModTime().After(last) {
			w.lastModTime[path] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.opts.Path)
	for _, fn := range listeners {
		fn(cfg)
	}
}

func (w *Watcher) load() (*Config, error) {
	cfg, err := LoadWith(w.opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReloadableConfig holds a configuration that a Watcher may replace while
// readers use it.
type ReloadableConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewReloadableConfig wraps cfg.
func NewReloadableConfig(cfg *Config) *ReloadableConfig {
	return &ReloadableConfig{config: cfg}
}

func (r *ReloadableConfig) Get() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

func (r *ReloadableConfig) Update(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = cfg
}

// Pipeline returns the current pipeline settings.
func (r *ReloadableConfig) Pipeline() PipelineConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Pipeline
}

// Log returns the current log settings.
func (r *ReloadableConfig) Log() LogConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Log
}
