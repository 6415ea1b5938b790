package status

import "time"

// Phase is where a source stands after its latest run
type Phase string

const (
	// PhaseRunning means a fetch for the source is in progress
	PhaseRunning Phase = "Running"

	// PhaseSucceeded means the latest fetch wrote an envelope
	PhaseSucceeded Phase = "Succeeded"

	// PhaseFailed means the latest fetch failed
	PhaseFailed Phase = "Failed"
)

// SourceStatus is the persisted state of one source across runs
type SourceStatus struct {
	// Phase of the latest run
	Phase Phase `json:"phase"`

	// Message is the failure reason, or empty after a success
	Message string `json:"message,omitempty"`

	// RunID identifies the run that last touched the status
	RunID string `json:"runId,omitempty"`

	// Date is the data date of the latest run
	Date string `json:"date,omitempty"`

	// LastAttempt is when the latest run started
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// LastSuccess is when the source last succeeded
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// ConsecutiveFailures counts failed runs since the last success
	ConsecutiveFailures int `json:"consecutiveFailures,omitempty"`

	// OutputPath is the envelope written by the last successful run
	OutputPath string `json:"outputPath,omitempty"`

	// Duration of the latest finished run
	Duration time.Duration `json:"duration,omitempty"`
}

// Started returns the status for a run that began at now
func (s SourceStatus) Started(runID, date string, now time.Time) SourceStatus {
	s.Phase = PhaseRunning
	s.Message = ""
	s.RunID = runID
	s.Date = date
	s.LastAttempt = &now
	return s
}

// Succeeded returns the status after a successful run
func (s SourceStatus) Succeeded(outputPath string, duration time.Duration, now time.Time) SourceStatus {
	s.Phase = PhaseSucceeded
	s.Message = ""
	s.LastSuccess = &now
	s.ConsecutiveFailures = 0
	s.OutputPath = outputPath
	s.Duration = duration
	return s
}

// Failed returns the status after a failed run; the last good output is kept
func (s SourceStatus) Failed(message string, duration time.Duration) SourceStatus {
	s.Phase = PhaseFailed
	s.Message = message
	s.ConsecutiveFailures++
	s.Duration = duration
	return s
}
