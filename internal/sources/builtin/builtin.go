// Package builtin registers the built-in source plugins.
package builtin

import (
	"fmt"
	"sort"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/plugin"
	"github.com/chinacompass/cc-fetcher/internal/sources"
	"github.com/chinacompass/cc-fetcher/internal/sources/markets"
	"github.com/chinacompass/cc-fetcher/internal/sources/news"
	"github.com/chinacompass/cc-fetcher/internal/sources/parliament"
	"github.com/chinacompass/cc-fetcher/internal/sources/press"
	"github.com/chinacompass/cc-fetcher/internal/sources/statcan"
)

// MFA is the registry key of the MFA press conference listing
const MFA = "mfa"

// Deps are the dependencies shared by the built-in plugins
type Deps struct {
	// Client performs every HTTP request; normally an *httpclient.Transport
	Client sources.Client

	// Quotes overrides the market quote client
	Quotes markets.QuoteClient
}

// Loaders returns the loader of every built-in plugin by name
func Loaders(deps Deps) map[string]plugin.Loader {
	quotes := deps.Quotes
	if quotes == nil {
		quotes = markets.NewChartClient(deps.Client)
	}
	return map[string]plugin.Loader{
		parliament.Name: plugin.Static(parliament.New(deps.Client)),
		statcan.Name:    plugin.Static(statcan.New(deps.Client)),
		news.Name:       plugin.Static(news.New(deps.Client)),
		press.Name:      plugin.Static(press.New(deps.Client, press.Generic)),
		MFA:             plugin.Static(press.New(deps.Client, press.MFA)),
		markets.Name:    plugin.Static(markets.New(quotes)),
	}
}

// Register adds every built-in plugin to reg
func Register(reg *plugin.Registry, deps Deps) error {
	loaders := Loaders(deps)
	names := make([]string, 0, len(loaders))
	for name := range loaders {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := reg.Register(name, loaders[name]); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAliases registers every configured source whose "plugin" setting
// names a built-in plugin other than itself, under the source's own name
func RegisterAliases(reg *plugin.Registry, cfg config.AppConfig, deps Deps) error {
	loaders := Loaders(deps)
	for _, name := range cfg.Names() {
		src, _ := cfg.Source(name)
		target := src.Plugin()
		if target == name {
			continue
		}
		loader, ok := loaders[target]
		if !ok {
			return fmt.Errorf("source '%s' names plugin '%s': %w", name, target, plugin.ErrUnknownSource)
		}
		if err := reg.Register(name, loader); err != nil {
			return fmt.Errorf("source '%s': %w", name, err)
		}
	}
	return nil
}
