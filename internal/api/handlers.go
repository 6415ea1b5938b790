package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chinacompass/cc-fetcher/internal/status"
	"github.com/chinacompass/cc-fetcher/pkg/versions"
)

type handlers struct {
	runs     SummarySource
	statuses status.Persistence
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// readiness answers 503 until the first scheduled run has finished
func (h *handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	if _, ok := h.runs.LastSummary(); !ok {
		writeError(w, http.StatusServiceUnavailable, "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready"})
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	writeJSON(w, http.StatusOK, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if summary, ok := h.runs.LastSummary(); ok {
		resp.LastRun = &summary
	}
	if h.statuses != nil {
		sources, err := h.statuses.LoadAll(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to load source status", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load source status")
			return
		}
		resp.Sources = sources
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message})
}
