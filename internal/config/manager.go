package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the current source configuration and reloads it when the
// file changes. The file is only read. An invalid update is logged and the
// last good configuration stays active.
type Manager struct {
	mu     sync.RWMutex
	config AppConfig

	opts []Option
	path string

	watcher   *fsnotify.Watcher
	watcherMu sync.Mutex
	onReload  []func(AppConfig)
}

// NewManager loads the initial configuration with opts
func NewManager(opts ...Option) (*Manager, error) {
	path, err := Path(opts...)
	if err != nil {
		return nil, err
	}
	m := &Manager{opts: opts, path: path}
	if err := m.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}
	return m, nil
}

// Config returns the current configuration. AppConfig is a value, so callers
// cannot affect what other readers see.
func (m *Manager) Config() AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Path is the watched file
func (m *Manager) Path() string {
	return m.path
}

// OnReload registers fn to be called with every newly applied configuration
func (m *Manager) OnReload(fn func(AppConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// Reload reads the file and applies it when it parses
func (m *Manager) Reload() error {
	cfg, err := Load(m.opts...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := append([]func(AppConfig){}, m.onReload...)
	m.mu.Unlock()

	slog.Info("Source configuration loaded", "path", m.path, "env", cfg.Env, "source_count", cfg.Len())
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// Watch reloads the configuration whenever its file is written, created or
// replaced. The directory is watched so that atomic renames and symlink swaps
// are seen. It blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	m.watcherMu.Lock()
	if m.watcher != nil {
		m.watcherMu.Unlock()
		return errors.New("config watcher is already running")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.watcherMu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	m.watcher = watcher
	m.watcherMu.Unlock()

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	slog.Info("Watching source configuration", "path", m.path)

	name := filepath.Base(m.path)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping config watcher")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("watcher event channel closed")
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				slog.Info("Source configuration changed, reloading", "op", event.Op.String())
				if err := m.Reload(); err != nil {
					slog.Error("Failed to reload source configuration, keeping previous", "error", err)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("watcher error channel closed")
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

// Close releases the file watcher
func (m *Manager) Close() error {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
		m.watcher = nil
	}
	return nil
}
