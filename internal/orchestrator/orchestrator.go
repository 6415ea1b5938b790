// Package orchestrator runs the configured sources one at a time, each behind
// its own failure boundary, and records a per-source outcome.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/chinacompass/cc-fetcher/internal/config"
	ccotel "github.com/chinacompass/cc-fetcher/internal/otel"
	"github.com/chinacompass/cc-fetcher/internal/status"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
)

// TracerName is the tracer used for run and source spans
const TracerName = "github.com/chinacompass/cc-fetcher/orchestrator"

// Dispatcher runs a named source. *plugin.Registry satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, cfg config.SourceConfig, date string) (any, error)
	Names() []string
}

// EnvelopeWriter persists a source payload. *output.Writer satisfies it.
type EnvelopeWriter interface {
	Write(date, source string, payload any) (string, error)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStatusPersistence records per-source status across runs
func WithStatusPersistence(p status.Persistence) Option {
	return func(o *Orchestrator) {
		o.statuses = p
	}
}

// WithTracerProvider traces runs and sources
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithFetchMetrics records per-source durations
func WithFetchMetrics(m *telemetry.FetchMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRunIDs overrides run id generation
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		o.newRunID = next
	}
}

// Orchestrator drives one fetch run over the selected sources
type Orchestrator struct {
	dispatcher Dispatcher
	writer     EnvelopeWriter
	statuses   status.Persistence
	tracer     trace.Tracer
	metrics    *telemetry.FetchMetrics
	now        func() time.Time
	newRunID   func() string
}

// New creates an Orchestrator
func New(dispatcher Dispatcher, writer EnvelopeWriter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dispatcher: dispatcher,
		writer:     writer,
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAll runs the selected sources, or every registered source when none are
// selected, sequentially. A source missing from cfg runs with a default
// configuration. No failure of one source stops the others; once ctx is done,
// the sources not yet started are recorded as cancelled.
func (o *Orchestrator) RunAll(ctx context.Context, cfg config.AppConfig, date string, selected ...string) Summary {
	names := dedupe(selected)
	if len(names) == 0 {
		names = o.dispatcher.Names()
	}

	summary := Summary{
		RunID:     o.newRunID(),
		Env:       cfg.Env,
		Date:      date,
		StartedAt: o.now().UTC(),
		Outcomes:  make([]Outcome, 0, len(names)),
	}

	ctx, span := ccotel.StartSpan(ctx, o.tracer, "orchestrator.RunAll",
		trace.WithAttributes(
			ccotel.AttrRunID.String(summary.RunID),
			ccotel.AttrEnv.String(cfg.Env),
			ccotel.AttrDate.String(date),
		),
	)
	defer span.End()

	logger := slog.With("run_id", summary.RunID, "date", date, "env", cfg.Env)
	logger.InfoContext(ctx, "Starting run", "sources", names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			summary.Outcomes = append(summary.Outcomes, Outcome{
				Source: name,
				Status: StatusError,
				Error:  fmt.Sprintf("%s: run cancelled", name),
			})
			continue
		}
		summary.Outcomes = append(summary.Outcomes, o.runSource(ctx, logger, cfg, summary.RunID, name, date))
	}

	failed := len(summary.Failed())
	if failed > 0 {
		span.SetAttributes(ccotel.AttrSourceStatus.String(string(StatusError)))
		logger.WarnContext(ctx, "Run finished with failures", "failed", failed, "total", len(summary.Outcomes))
	} else {
		logger.InfoContext(ctx, "Run finished", "total", len(summary.Outcomes))
	}
	return summary
}

// runSource is the failure boundary for one source: whatever happens inside,
// it returns an Outcome.
func (o *Orchestrator) runSource(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.AppConfig,
	runID, name, date string,
) (outcome Outcome) {
	start := o.now()
	logger = logger.With("source", name)

	ctx, span := ccotel.StartSpan(ctx, o.tracer, "orchestrator.RunSource",
		trace.WithAttributes(ccotel.AttrSourceName.String(name)),
	)
	defer span.End()

	src, found := cfg.SourceOrDefault(name)
	if !found {
		logger.WarnContext(ctx, "Source not configured, using defaults",
			"timeout", src.Timeout, "max_retries", src.Retry.MaxRetries)
	}

	prev := o.loadStatus(ctx, name)
	o.saveStatus(ctx, name, prev.Started(runID, date, start.UTC()))

	defer func() {
		if v := recover(); v != nil {
			logger.ErrorContext(ctx, "Recovered panic in source", "panic", v, "stack", string(debug.Stack()))
			outcome = Outcome{Source: name, Status: StatusError, Error: fmt.Sprintf("%s: panic: %v", name, v)}
		}
		outcome.Duration = o.now().Sub(start)
		o.finish(ctx, span, prev.Started(runID, date, start.UTC()), outcome)
	}()

	logger.InfoContext(ctx, "Fetching source")
	payload, err := o.dispatcher.Dispatch(ctx, name, src, date)
	if err != nil {
		logger.ErrorContext(ctx, "Source failed", "error", err)
		ccotel.RecordError(span, err)
		return Outcome{Source: name, Status: StatusError, Error: fmt.Sprintf("%s: %v", name, err)}
	}

	path, err := o.writer.Write(date, name, payload)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to write envelope", "error", err)
		ccotel.RecordError(span, err)
		return Outcome{Source: name, Status: StatusError, Error: fmt.Sprintf("%s: %v", name, err)}
	}

	logger.InfoContext(ctx, "Source succeeded", "output", path)
	span.SetAttributes(ccotel.AttrOutputPath.String(path))
	return Outcome{Source: name, Status: StatusOK, Output: path}
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, running status.SourceStatus, outcome Outcome) {
	span.SetAttributes(ccotel.AttrSourceStatus.String(string(outcome.Status)))
	o.metrics.RecordSourceDuration(ctx, outcome.Source, outcome.Duration, outcome.OK())

	next := running.Failed(outcome.Error, outcome.Duration)
	if outcome.OK() {
		next = running.Succeeded(outcome.Output, outcome.Duration, o.now().UTC())
	}
	o.saveStatus(ctx, outcome.Source, next)
}

func (o *Orchestrator) loadStatus(ctx context.Context, name string) status.SourceStatus {
	if o.statuses == nil {
		return status.SourceStatus{}
	}
	s, err := o.statuses.Load(ctx, name)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load source status", "source", name, "error", err)
		return status.SourceStatus{}
	}
	return s
}

func (o *Orchestrator) saveStatus(ctx context.Context, name string, s status.SourceStatus) {
	if o.statuses == nil {
		return
	}
	if err := o.statuses.Save(ctx, name, s); err != nil {
		slog.WarnContext(ctx, "Failed to save source status", "source", name, "error", err)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
