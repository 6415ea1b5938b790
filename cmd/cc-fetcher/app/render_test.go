package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
)

func testSummary() orchestrator.Summary {
	return orchestrator.Summary{
		RunID: "run1",
		Env:   "dev",
		Date:  "2024-01-15",
		Outcomes: []orchestrator.Outcome{
			{Source: "news", Status: orchestrator.StatusOK, Output: "data/2024-01-15/news.json", Duration: 1500 * time.Millisecond},
			{Source: "mfa", Status: orchestrator.StatusError, Error: "mfa: HTTP 503"},
		},
	}
}

func TestSummaryFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		flag    string
		want    string
		wantErr bool
	}{
		{flag: "", want: formatJSON},
		{flag: "json", want: formatJSON},
		{flag: "table", want: formatTable},
		{flag: "yaml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			t.Parallel()
			// a buffer is never a terminal
			got, err := summaryFormat(tt.flag, &bytes.Buffer{})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderSummaryJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, testSummary(), formatJSON))

	var decoded struct {
		RunID    string `json:"run_id"`
		Outcomes []struct {
			Source          string  `json:"source"`
			Status          string  `json:"status"`
			Error           string  `json:"error"`
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run1", decoded.RunID)
	require.Len(t, decoded.Outcomes, 2)
	assert.InDelta(t, 1.5, decoded.Outcomes[0].DurationSeconds, 0.001)
	assert.Equal(t, "mfa: HTTP 503", decoded.Outcomes[1].Error)
}

func TestRenderSummaryTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, testSummary(), formatTable))

	out := buf.String()
	assert.Contains(t, out, "news")
	assert.Contains(t, out, "data/2024-01-15/news.json")
	assert.Contains(t, out, "mfa: HTTP 503")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "run run1 (dev, 2024-01-15): 1 ok, 1 failed")
	assert.NotContains(t, out, "\x1b[", "no colour outside a terminal")
}
