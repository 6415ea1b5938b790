package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/httpclient"
	"github.com/chinacompass/cc-fetcher/internal/orchestrator"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/plugin"
	"github.com/chinacompass/cc-fetcher/internal/plugin/mocks"
	"github.com/chinacompass/cc-fetcher/internal/status"
)

const testDate = "2024-01-15"

type fixture struct {
	ctrl     *gomock.Controller
	registry *plugin.Registry
	writer   *output.Writer
	statuses status.Persistence
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	dir := t.TempDir()
	return &fixture{
		ctrl:     ctrl,
		registry: plugin.NewRegistry(),
		writer:   output.NewWriter(filepath.Join(dir, "staging"), output.WithVersion("1.0.0")),
		statuses: status.NewFilePersistence(filepath.Join(dir, "status")),
		dir:      dir,
	}
}

func (f *fixture) mock(name string) *mocks.MockPlugin {
	m := mocks.NewMockPlugin(f.ctrl)
	f.registry.MustRegister(name, plugin.Static(m))
	return m
}

func (f *fixture) orchestrator(opts ...orchestrator.Option) *orchestrator.Orchestrator {
	opts = append([]orchestrator.Option{
		orchestrator.WithStatusPersistence(f.statuses),
		orchestrator.WithRunIDs(func() string { return "run-1" }),
	}, opts...)
	return orchestrator.New(f.registry, f.writer, opts...)
}

func TestRunAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mock("markets").EXPECT().Fetch(gomock.Any(), gomock.Any(), testDate).
		Return(map[string]any{"indices": []any{}}, nil)
	f.mock("news").EXPECT().Fetch(gomock.Any(), gomock.Any(), testDate).
		Return(nil, &httpclient.HTTPError{StatusCode: 503, URL: "https://feeds.example/rss", Message: "Service Unavailable"})
	f.mock("parliament").EXPECT().Fetch(gomock.Any(), gomock.Any(), testDate).
		DoAndReturn(func(context.Context, config.SourceConfig, string) (any, error) {
			panic("index out of range")
		})
	f.mock("statcan").EXPECT().Fetch(gomock.Any(), gomock.Any(), testDate).
		Return(map[string]any{"series": []any{}}, nil)

	summary := f.orchestrator().RunAll(context.Background(), config.NewAppConfig("dev"), testDate)

	require.Len(t, summary.Outcomes, 4)
	assert.Equal(t, "run-1", summary.RunID)
	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.ExitCode())

	byName := map[string]orchestrator.Outcome{}
	for _, o := range summary.Outcomes {
		byName[o.Source] = o
	}

	assert.True(t, byName["markets"].OK())
	assert.True(t, byName["statcan"].OK())
	assert.FileExists(t, byName["markets"].Output)
	assert.FileExists(t, byName["statcan"].Output)

	assert.Equal(t, orchestrator.StatusError, byName["news"].Status)
	assert.Contains(t, byName["news"].Error, "news: ")
	assert.Contains(t, byName["news"].Error, "HTTP 503")

	assert.Equal(t, orchestrator.StatusError, byName["parliament"].Status)
	assert.Contains(t, byName["parliament"].Error, "parliament: ")
	assert.Contains(t, byName["parliament"].Error, "index out of range")

	// a failed source leaves no envelope behind
	_, err := os.Stat(filepath.Join(f.writer.Dir(), testDate, "news.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunAllUsesDefaultConfigForUnknownSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mock("mfa").EXPECT().
		Fetch(gomock.Any(), gomock.Any(), testDate).
		DoAndReturn(func(_ context.Context, cfg config.SourceConfig, _ string) (any, error) {
			assert.Equal(t, "mfa", cfg.Name)
			assert.Equal(t, 30*time.Second, cfg.Timeout)
			assert.Equal(t, config.DefaultRetryPolicy(), cfg.Retry)
			return map[string]any{"articles": []any{}}, nil
		})

	cfg := config.NewAppConfig("prod", config.DefaultSourceConfig("news"))
	summary := f.orchestrator().RunAll(context.Background(), cfg, testDate, "mfa")

	require.Len(t, summary.Outcomes, 1)
	assert.True(t, summary.OK())
	assert.Equal(t, 0, summary.ExitCode())
	assert.Equal(t, "prod", summary.Env)
}

func TestRunAllPassesConfiguredSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	src := config.DefaultSourceConfig("statcan").
		WithTimeout(45 * time.Second).
		WithSettings(map[string]any{"table": "12-10-0011-01"})
	f.mock("statcan").EXPECT().Fetch(gomock.Any(), src, testDate).Return(map[string]any{}, nil)

	summary := f.orchestrator().RunAll(context.Background(), config.NewAppConfig("dev", src), testDate, "statcan", "statcan")
	require.Len(t, summary.Outcomes, 1, "duplicate selections run once")
	assert.True(t, summary.OK())
}

func TestRunAllAllFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mock("news").EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("all feeds unreachable"))
	f.mock("markets").EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("quote service down"))

	summary := f.orchestrator().RunAll(context.Background(), config.NewAppConfig("dev"), testDate)

	assert.Equal(t, 1, summary.ExitCode())
	require.Len(t, summary.Failed(), 2)
	assert.Equal(t, "markets: quote service down", summary.Outcomes[0].Error)
	assert.Equal(t, "news: all feeds unreachable", summary.Outcomes[1].Error)
}

func TestRunAllRecordsUnknownSourceAsLoadFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	summary := f.orchestrator().RunAll(context.Background(), config.NewAppConfig("dev"), testDate, "ghost")

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, orchestrator.StatusError, summary.Outcomes[0].Status)
	assert.Contains(t, summary.Outcomes[0].Error, "ghost: ")
	assert.Contains(t, summary.Outcomes[0].Error, "unknown source")
}

type failingWriter struct{}

func (failingWriter) Write(string, string, any) (string, error) {
	return "", errors.New("disk full")
}

type panickingWriter struct{}

func (panickingWriter) Write(string, string, any) (string, error) {
	panic("writer exploded")
}

func TestRunAllTreatsWriteFailureAsSourceFailure(t *testing.T) {
	t.Parallel()

	for _, w := range []orchestrator.EnvelopeWriter{failingWriter{}, panickingWriter{}} {
		f := newFixture(t)
		f.mock("news").EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(map[string]any{}, nil)

		summary := orchestrator.New(f.registry, w).RunAll(context.Background(), config.NewAppConfig("dev"), testDate)
		require.Len(t, summary.Outcomes, 1)
		assert.False(t, summary.OK())
		assert.Contains(t, summary.Outcomes[0].Error, "news: ")
	}
}

func TestRunAllStopsSchedulingWhenCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.mock("alpha").EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, config.SourceConfig, string) (any, error) {
			cancel()
			return map[string]any{}, nil
		})
	f.mock("beta") // never dispatched

	summary := f.orchestrator().RunAll(ctx, config.NewAppConfig("dev"), testDate)

	require.Len(t, summary.Outcomes, 2)
	assert.True(t, summary.Outcomes[0].OK(), "the running source completes")
	assert.Equal(t, "beta: run cancelled", summary.Outcomes[1].Error)
}

func TestRunAllPersistsStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mock("news").EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(map[string]any{}, nil)
	f.mock("markets").EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	f.orchestrator().RunAll(context.Background(), config.NewAppConfig("dev"), testDate)

	all, err := f.statuses.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.PhaseSucceeded, all["news"].Phase)
	assert.Equal(t, "run-1", all["news"].RunID)
	assert.NotEmpty(t, all["news"].OutputPath)
	assert.Equal(t, status.PhaseFailed, all["markets"].Phase)
	assert.Equal(t, "markets: boom", all["markets"].Message)
	assert.Equal(t, 1, all["markets"].ConsecutiveFailures)
}

func TestRunAllTracesSources(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t)
	f.mock("news").EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	f.orchestrator(orchestrator.WithTracerProvider(tp)).
		RunAll(context.Background(), config.NewAppConfig("dev"), testDate)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "orchestrator.RunSource", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("cc.source.status", "error"))
	assert.Equal(t, "orchestrator.RunAll", spans[1].Name)
	assert.Equal(t, spans[1].SpanContext.TraceID(), spans[0].SpanContext.TraceID())
}

func TestSummaryJSON(t *testing.T) {
	t.Parallel()

	s := orchestrator.Summary{
		RunID: "r",
		Outcomes: []orchestrator.Outcome{
			{Source: "news", Status: orchestrator.StatusOK, Output: "/o/news.json", Duration: 1500 * time.Millisecond},
		},
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	outcome := decoded["outcomes"].([]any)[0].(map[string]any)
	assert.Equal(t, "news", outcome["source"])
	assert.Equal(t, "ok", outcome["status"])
	assert.InDelta(t, 1.5, outcome["duration_seconds"], 1e-9)
	assert.NotContains(t, outcome, "error")
}
