// Package api serves the read-only status endpoints of a scheduled fetcher.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
	"github.com/chinacompass/cc-fetcher/internal/status"
)

//go:generate mockgen -destination=mocks/mock_server.go -package=mocks -source=server.go SummarySource

// SummarySource reports the most recent run. *schedule.Scheduler satisfies it.
type SummarySource interface {
	LastSummary() (orchestrator.Summary, bool)
}

// ServerOption configures the status API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	statuses       status.Persistence
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithStatusPersistence adds the per-source status to /status
func WithStatusPersistence(p status.Persistence) ServerOption {
	return func(cfg *serverConfig) {
		cfg.statuses = p
	}
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// NewServer creates the router for the status API
func NewServer(runs SummarySource, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{runs: runs, statuses: cfg.statuses}
	r.Get("/health", healthHandler)
	r.Get("/readiness", h.readiness)
	r.Get("/version", versionHandler)
	r.Get("/status", h.status)
	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}
	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
