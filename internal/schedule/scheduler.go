package schedule

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
	"github.com/chinacompass/cc-fetcher/internal/output"
)

const (
	// DefaultInterval is the base period between runs
	DefaultInterval = 24 * time.Hour

	// DefaultJitter is the maximum offset applied to each period, either way
	DefaultJitter = 5 * time.Minute
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks -source=scheduler.go Runner,ConfigSource

// Runner runs every selected source once. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	RunAll(ctx context.Context, cfg config.AppConfig, date string, selected ...string) orchestrator.Summary
}

// ConfigSource supplies the configuration of the next run. *config.Manager satisfies it.
type ConfigSource interface {
	Config() config.AppConfig
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithInterval sets the base period between runs
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithJitter sets the maximum random offset of each period
func WithJitter(d time.Duration) Option {
	return func(s *Scheduler) {
		s.jitter = d
	}
}

// WithSources restricts runs to the named sources
func WithSources(names ...string) Option {
	return func(s *Scheduler) {
		s.sources = names
	}
}

// WithClock overrides the clock used for run dates
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// OnRun registers fn to be called after every run
func OnRun(fn func(orchestrator.Summary)) Option {
	return func(s *Scheduler) {
		s.onRun = append(s.onRun, fn)
	}
}

// Scheduler runs the orchestrator periodically
type Scheduler struct {
	runner   Runner
	configs  ConfigSource
	interval time.Duration
	jitter   time.Duration
	sources  []string
	now      func() time.Time
	onRun    []func(orchestrator.Summary)

	mu   sync.RWMutex
	last *orchestrator.Summary
	runs int

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a Scheduler
func New(runner Runner, configs ConfigSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		configs:  configs,
		interval: DefaultInterval,
		jitter:   DefaultJitter,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextInterval returns the base interval shifted by a random offset in
// [-jitter, +jitter), never below one millisecond
func (s *Scheduler) nextInterval() time.Duration {
	d := s.interval
	if s.jitter > 0 {
		//nolint:gosec // G404: jitter does not need cryptographic randomness
		d += time.Duration(rand.Int64N(int64(2*s.jitter))) - s.jitter
	}
	return max(d, time.Millisecond)
}

// Start runs once immediately and then on every tick until ctx is done or
// Stop is called. It blocks.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		close(s.done)
		slog.Info("Scheduler shutting down")
	}()

	interval := s.nextInterval()
	slog.Info("Starting scheduler", "base_interval", s.interval, "actual_interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
			ticker.Reset(s.nextInterval())
		case <-ctx.Done():
			slog.Info("Scheduler stopping")
			return nil
		}
	}
}

// Stop cancels the loop and waits for the current run to finish
func (s *Scheduler) Stop() error {
	s.mu.RLock()
	cancel := s.cancelFunc
	s.mu.RUnlock()
	if cancel != nil {
		slog.Info("Stopping scheduler")
		cancel()
		<-s.done
	}
	return nil
}

// RunOnce runs the selected sources for the current date with the current configuration
func (s *Scheduler) RunOnce(ctx context.Context) orchestrator.Summary {
	cfg := s.configs.Config()
	date := s.now().Format(output.DateLayout)

	summary := s.runner.RunAll(ctx, cfg, date, s.sources...)

	s.mu.Lock()
	s.last = &summary
	s.runs++
	s.mu.Unlock()

	failed := len(summary.Failed())
	if failed > 0 {
		slog.Warn("Scheduled run finished with failures", "run_id", summary.RunID, "failed", failed, "total", len(summary.Outcomes))
	} else {
		slog.Info("Scheduled run finished", "run_id", summary.RunID, "total", len(summary.Outcomes))
	}
	for _, fn := range s.onRun {
		fn(summary)
	}
	return summary
}

// LastSummary returns the summary of the most recent run
func (s *Scheduler) LastSummary() (orchestrator.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return orchestrator.Summary{}, false
	}
	return *s.last, true
}

// Runs returns how many runs have completed
func (s *Scheduler) Runs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs
}
