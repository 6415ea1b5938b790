package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/chinacompass/cc-fetcher/internal/api"
	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/httpclient"
	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/plugin"
	"github.com/chinacompass/cc-fetcher/internal/schedule"
	"github.com/chinacompass/cc-fetcher/internal/sources/builtin"
	"github.com/chinacompass/cc-fetcher/internal/status"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
)

const (
	// DefaultOutputDir is where envelopes are written
	DefaultOutputDir = "data"

	// DefaultStatusDir is where per-source status files are kept
	DefaultStatusDir = "status"

	// DefaultAddress is the listen address of the status API
	DefaultAddress = ":8080"

	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// Option configures the fetcher application
type Option func(*appConfig) error

type appConfig struct {
	configOpts []config.Option
	outputDir  string
	statusDir  string
	sources    []string

	// Scheduling
	interval time.Duration
	jitter   time.Duration

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Overrides, primarily for testing
	deps      *builtin.Deps
	scheduler Scheduler

	telemetry *telemetry.Telemetry
}

func baseConfig(opts ...Option) (*appConfig, error) {
	cfg := &appConfig{
		outputDir:      DefaultOutputDir,
		statusDir:      DefaultStatusDir,
		interval:       schedule.DefaultInterval,
		jitter:         schedule.DefaultJitter,
		address:        DefaultAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithConfigOptions sets how the source configuration is located
func WithConfigOptions(opts ...config.Option) Option {
	return func(cfg *appConfig) error {
		cfg.configOpts = append(cfg.configOpts, opts...)
		return nil
	}
}

// WithOutputDir sets the envelope output directory
func WithOutputDir(dir string) Option {
	return func(cfg *appConfig) error {
		if dir == "" {
			return fmt.Errorf("output directory cannot be empty")
		}
		cfg.outputDir = dir
		return nil
	}
}

// WithStatusDir sets the status directory
func WithStatusDir(dir string) Option {
	return func(cfg *appConfig) error {
		if dir == "" {
			return fmt.Errorf("status directory cannot be empty")
		}
		cfg.statusDir = dir
		return nil
	}
}

// WithSources restricts scheduled runs to the named sources
func WithSources(names ...string) Option {
	return func(cfg *appConfig) error {
		cfg.sources = names
		return nil
	}
}

// WithInterval sets the base period between scheduled runs
func WithInterval(d time.Duration) Option {
	return func(cfg *appConfig) error {
		if d <= 0 {
			return fmt.Errorf("interval must be positive, got %s", d)
		}
		cfg.interval = d
		return nil
	}
}

// WithJitter sets the maximum random offset of each scheduled period
func WithJitter(d time.Duration) Option {
	return func(cfg *appConfig) error {
		if d < 0 {
			return fmt.Errorf("jitter cannot be negative, got %s", d)
		}
		cfg.jitter = d
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) Option {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, ok := strings.Cut(addr, ":")
		if !ok || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithBuiltinDeps overrides the dependencies of the built-in plugins
func WithBuiltinDeps(deps builtin.Deps) Option {
	return func(cfg *appConfig) error {
		cfg.deps = &deps
		return nil
	}
}

// WithScheduler replaces the scheduler (for testing)
func WithScheduler(s Scheduler) Option {
	return func(cfg *appConfig) error {
		cfg.scheduler = s
		return nil
	}
}

// WithTelemetry wires tracing and metrics into the components
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// NewComponents builds the fetch components for cfg
func NewComponents(cfg config.AppConfig, opts ...Option) (*Components, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildComponents(cfg, b)
}

// buildComponents builds the plugin registry, writer, status store and orchestrator
func buildComponents(cfg config.AppConfig, b *appConfig) (*Components, error) {
	var orchOpts []orchestrator.Option
	var transportOpts []httpclient.Option

	if b.telemetry != nil {
		fetchMetrics, err := telemetry.NewFetchMetrics(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create fetch metrics: %w", err)
		}
		orchOpts = append(orchOpts,
			orchestrator.WithFetchMetrics(fetchMetrics),
			orchestrator.WithTracerProvider(b.telemetry.TracerProvider()),
		)
		transportOpts = append(transportOpts, httpclient.WithFetchMetrics(fetchMetrics))
	}

	deps := builtin.Deps{}
	if b.deps != nil {
		deps = *b.deps
	}
	if deps.Client == nil {
		deps.Client = httpclient.New(transportOpts...)
	}

	registry := plugin.NewRegistry()
	if err := builtin.Register(registry, deps); err != nil {
		return nil, fmt.Errorf("failed to register built-in sources: %w", err)
	}
	if err := builtin.RegisterAliases(registry, cfg, deps); err != nil {
		return nil, fmt.Errorf("failed to register configured sources: %w", err)
	}

	writer := output.NewWriter(b.outputDir)
	statuses := status.NewFilePersistence(b.statusDir)
	orchOpts = append(orchOpts, orchestrator.WithStatusPersistence(statuses))

	slog.Debug("Fetch components initialized", "sources", registry.Names(), "output_dir", b.outputDir)
	return &Components{
		Registry:     registry,
		Orchestrator: orchestrator.New(registry, writer, orchOpts...),
		Writer:       writer,
		Statuses:     statuses,
	}, nil
}

// buildHTTPServer builds the status API server with router and middleware
func buildHTTPServer(b *appConfig, runs api.SummarySource, statuses status.Persistence) (*http.Server, error) {
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	serverOpts := []api.ServerOption{api.WithStatusPersistence(statuses)}
	if b.telemetry != nil {
		httpMetrics, err := telemetry.NewHTTPMetrics(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		// Metrics and tracing go first to see every request
		b.middlewares = append([]func(http.Handler) http.Handler{
			httpMetrics.Middleware,
			telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
		}, b.middlewares...)
		if b.telemetry.Registry() != nil {
			serverOpts = append(serverOpts, api.WithMetricsHandler(b.telemetry.MetricsHandler()))
		}
	}
	serverOpts = append(serverOpts, api.WithMiddlewares(b.middlewares...))

	return &http.Server{
		Addr:         b.address,
		Handler:      api.NewServer(runs, serverOpts...),
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}, nil
}

var _ Scheduler = (*schedule.Scheduler)(nil)

// newScheduler builds the default scheduler over the orchestrator
func newScheduler(b *appConfig, runner schedule.Runner, configs schedule.ConfigSource) *schedule.Scheduler {
	return schedule.New(runner, configs,
		schedule.WithInterval(b.interval),
		schedule.WithJitter(b.jitter),
		schedule.WithSources(b.sources...),
	)
}

// RunOnce builds the components for cfg and runs the selected sources once
func RunOnce(ctx context.Context, cfg config.AppConfig, date string, selected []string, opts ...Option) (orchestrator.Summary, error) {
	components, err := NewComponents(cfg, opts...)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	return components.Orchestrator.RunAll(ctx, cfg, date, selected...), nil
}
