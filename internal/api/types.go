package api

import (
	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
	"github.com/chinacompass/cc-fetcher/internal/status"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// VersionResponse represents the version information response
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	LastRun *orchestrator.Summary          `json:"last_run,omitempty"`
	Sources map[string]status.SourceStatus `json:"sources,omitempty"`
}
