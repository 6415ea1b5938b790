// Package logging sets up the structured slog logger shared by the cc binaries.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/chinacompass/cc-fetcher/internal/config"
)

// LevelFromEnv parses CC_LOG_LEVEL, falling back to LOG_LEVEL.
// Defaults to slog.LevelInfo if neither is set or if the value is invalid.
func LevelFromEnv() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	return ParseLevel(levelStr)
}

// ParseLevel maps a level name to a slog.Level
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
		return slog.LevelInfo
	}
}

// traceHandler adds trace_id and span_id to records logged with a context
// that carries a sampled or remote span, so run and source logs line up
// with the orchestrator spans.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// NewHandler builds a JSON handler writing to w with trace correlation.
// The level is a LevelVar so that --debug can raise verbosity after startup.
func NewHandler(w io.Writer, level *slog.LevelVar) slog.Handler {
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &traceHandler{Handler: base}
}

// Setup installs the default logger for a binary. Logs go to stderr to keep
// stdout clean for commands that print data (run summaries, version --format json).
func Setup(binary string) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(LevelFromEnv())

	handler := NewHandler(os.Stderr, level)
	slog.SetDefault(slog.New(handler).With("binary", binary))

	// OpenTelemetry reports exporter errors through logr.
	otel.SetLogger(logr.FromSlogHandler(handler))

	return level
}
