// Package plugin holds the source registry: named, lazily loaded plugins that
// fetch one day of data from one external source.
package plugin

import (
	"context"

	"github.com/chinacompass/cc-fetcher/internal/config"
)

//go:generate mockgen -destination=mocks/mock_plugin.go -package=mocks -source=plugin.go Plugin

// Plugin fetches the payload of one source for one date. The returned value
// must be JSON-encodable; values that are not are stringified by the writer.
// Implementations do their network I/O through httpclient.Transport with the
// retry policy and timeout carried by cfg.
type Plugin interface {
	Fetch(ctx context.Context, cfg config.SourceConfig, date string) (any, error)
}

// Func adapts an ordinary function to the Plugin interface
type Func func(ctx context.Context, cfg config.SourceConfig, date string) (any, error)

// Fetch calls f
func (f Func) Fetch(ctx context.Context, cfg config.SourceConfig, date string) (any, error) {
	return f(ctx, cfg, date)
}

// Loader constructs a plugin on first use
type Loader func() (Plugin, error)

// Static returns a Loader that always yields p
func Static(p Plugin) Loader {
	return func() (Plugin, error) {
		return p, nil
	}
}
