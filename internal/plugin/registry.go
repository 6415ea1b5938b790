package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/chinacompass/cc-fetcher/internal/config"
)

// Registry maps source names to plugin loaders. Plugins are loaded on first
// dispatch and kept for the life of the registry; a failed load is not cached,
// so the next dispatch tries again. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	loader Loader

	mu     sync.Mutex
	plugin Plugin
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a loader under name
func (r *Registry) Register(name string, loader Loader) error {
	if name == "" {
		return fmt.Errorf("source name must not be empty")
	}
	if loader == nil {
		return fmt.Errorf("loader for source %q must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, name)
	}
	r.entries[name] = &entry{loader: loader}
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error
func (r *Registry) MustRegister(name string, loader Loader) {
	if err := r.Register(name, loader); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Load returns the plugin registered under name, constructing it on first use
func (r *Registry) Load(name string) (Plugin, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &LoadError{Source: name, Err: fmt.Errorf("%w: %s", ErrUnknownSource, name)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plugin != nil {
		return e.plugin, nil
	}

	p, err := callLoader(e.loader)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	if p == nil {
		return nil, &LoadError{Source: name, Err: fmt.Errorf("loader returned no plugin")}
	}

	slog.Debug("Loaded plugin", "source", name)
	e.plugin = p
	return p, nil
}

// Dispatch loads the plugin for name and runs its Fetch. Failures come back as
// *LoadError or *ExecutionError; a panic inside the plugin becomes an
// *ExecutionError wrapping *PanicError.
func (r *Registry) Dispatch(ctx context.Context, name string, cfg config.SourceConfig, date string) (any, error) {
	p, err := r.Load(name)
	if err != nil {
		return nil, err
	}

	result, err := callFetch(ctx, p, cfg, date)
	if err != nil {
		return nil, &ExecutionError{Source: name, Err: err}
	}
	return result, nil
}

func callLoader(loader Loader) (p Plugin, err error) {
	defer func() {
		if v := recover(); v != nil {
			p, err = nil, &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return loader()
}

func callFetch(ctx context.Context, p Plugin, cfg config.SourceConfig, date string) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			result, err = nil, &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return p.Fetch(ctx, cfg, date)
}
