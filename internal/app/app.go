// Package app assembles the fetch components and manages the lifecycle of the
// long-running schedule mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chinacompass/cc-fetcher/internal/config"
)

// ScheduleApp runs the fetcher periodically and serves its status.
// The source configuration is reloaded whenever its file changes.
type ScheduleApp struct {
	configs    *config.Manager
	components *Components
	scheduler  Scheduler
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewScheduleApp builds the schedule mode application
func NewScheduleApp(ctx context.Context, opts ...Option) (*ScheduleApp, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	configs, err := config.NewManager(b.configOpts...)
	if err != nil {
		return nil, err
	}

	components, err := buildComponents(configs.Config(), b)
	if err != nil {
		_ = configs.Close()
		return nil, fmt.Errorf("failed to build fetch components: %w", err)
	}

	scheduler := b.scheduler
	if scheduler == nil {
		scheduler = newScheduler(b, components.Orchestrator, configs)
	}

	httpServer, err := buildHTTPServer(b, scheduler, components.Statuses)
	if err != nil {
		_ = configs.Close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	return &ScheduleApp{
		configs:    configs,
		components: components,
		scheduler:  scheduler,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// Start starts the scheduler and the config watcher in the background and
// then serves HTTP. It blocks until the server stops.
func (a *ScheduleApp) Start() error {
	go func() {
		if err := a.configs.Watch(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Config watcher failed", "error", err)
		}
	}()

	go func() {
		if err := a.scheduler.Start(a.ctx); err != nil {
			slog.Error("Scheduler failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", a.httpServer.Addr)
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop waits for the current run, stops watching the configuration and shuts
// the HTTP server down within timeout
func (a *ScheduleApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := a.scheduler.Stop(); err != nil {
		slog.Error("Failed to stop scheduler", "error", err)
	}

	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if err := a.configs.Close(); err != nil {
		slog.Error("Failed to close config watcher", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// Components returns the fetch components
func (a *ScheduleApp) Components() *Components {
	return a.components
}

// HTTPServer returns the HTTP server (useful for testing to get the actual port)
func (a *ScheduleApp) HTTPServer() *http.Server {
	return a.httpServer
}
