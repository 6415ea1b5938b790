package orchestrator

import (
	"encoding/json"
	"time"
)

// Status is the result of one source in a run
type Status string

const (
	// StatusOK means the source wrote its envelope
	StatusOK Status = "ok"

	// StatusError means the source failed and wrote nothing
	StatusError Status = "error"
)

// Outcome is the recorded result of one source. It is final: a recorded
// outcome is never retried by the orchestrator.
type Outcome struct {
	Source   string        `json:"source"`
	Status   Status        `json:"status"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// OK reports whether the source succeeded
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// MarshalJSON renders the duration in seconds
func (o Outcome) MarshalJSON() ([]byte, error) {
	type outcome Outcome
	return json.Marshal(struct {
		outcome
		DurationSeconds float64 `json:"duration_seconds"`
	}{outcome: outcome(o), DurationSeconds: o.Duration.Seconds()})
}

// Summary is the machine-readable result of a run
type Summary struct {
	RunID     string    `json:"run_id"`
	Env       string    `json:"env"`
	Date      string    `json:"date"`
	StartedAt time.Time `json:"started_at"`
	Outcomes  []Outcome `json:"outcomes"`
}

// OK is true only when every outcome is ok
func (s Summary) OK() bool {
	for _, o := range s.Outcomes {
		if !o.OK() {
			return false
		}
	}
	return true
}

// Failed returns the outcomes that did not succeed
func (s Summary) Failed() []Outcome {
	var failed []Outcome
	for _, o := range s.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// ExitCode is 0 when the run is OK and 1 otherwise
func (s Summary) ExitCode() int {
	if s.OK() {
		return 0
	}
	return 1
}
