package app

import (
	"context"

	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/plugin"
	"github.com/chinacompass/cc-fetcher/internal/status"
)

// Components groups the fetch components shared by one-shot and scheduled runs
type Components struct {
	// Registry holds the built-in plugins and the configured aliases
	Registry *plugin.Registry

	// Orchestrator runs sources against the registry
	Orchestrator *orchestrator.Orchestrator

	// Writer persists envelopes under the output directory
	Writer *output.Writer

	// Statuses is the per-source status store
	Statuses status.Persistence
}

// Scheduler drives periodic runs. *schedule.Scheduler satisfies it.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
	LastSummary() (orchestrator.Summary, bool)
}
