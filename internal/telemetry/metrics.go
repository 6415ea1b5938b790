package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// FetchMetricsMeterName is the meter for the fetch stage
	FetchMetricsMeterName = "github.com/chinacompass/cc-fetcher/fetch"

	// CDRMetricsMeterName is the meter for the validate and clean stages
	CDRMetricsMeterName = "github.com/chinacompass/cc-fetcher/cdr"
)

// FetchMetrics holds the instruments recorded while sources run
type FetchMetrics struct {
	sourceDuration metric.Float64Histogram
	httpRetries    metric.Int64Counter
}

// NewFetchMetrics creates the fetch instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewFetchMetrics(provider metric.MeterProvider) (*FetchMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(FetchMetricsMeterName)

	sourceDuration, err := meter.Float64Histogram(
		"cc_fetch_source_duration_seconds",
		metric.WithDescription("Duration of a single source fetch in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	httpRetries, err := meter.Int64Counter(
		"cc_fetch_http_retries_total",
		metric.WithDescription("HTTP attempts that failed and were retried"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &FetchMetrics{
		sourceDuration: sourceDuration,
		httpRetries:    httpRetries,
	}, nil
}

// RecordSourceDuration records how long a source took and whether it succeeded
func (m *FetchMetrics) RecordSourceDuration(ctx context.Context, source string, duration time.Duration, success bool) {
	if m == nil || m.sourceDuration == nil {
		return
	}
	m.sourceDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

// RecordHTTPRetry counts a retried attempt against a host.
// reason is "timeout", "network" or "http_<status>".
func (m *FetchMetrics) RecordHTTPRetry(ctx context.Context, host, reason string) {
	if m == nil || m.httpRetries == nil {
		return
	}
	m.httpRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("host", host),
		attribute.String("reason", reason),
	))
}

// CDRMetrics holds the instruments recorded by the validator and reconstructor
type CDRMetrics struct {
	violations metric.Int64Counter
	documents  metric.Int64Counter
}

// NewCDRMetrics creates the CDR instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewCDRMetrics(provider metric.MeterProvider) (*CDRMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CDRMetricsMeterName)

	violations, err := meter.Int64Counter(
		"cc_cdr_violations_total",
		metric.WithDescription("Validation violations found in staged files"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}

	documents, err := meter.Int64Counter(
		"cc_cdr_documents_total",
		metric.WithDescription("Documents seen by the CDR stage by result"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	return &CDRMetrics{
		violations: violations,
		documents:  documents,
	}, nil
}

// RecordViolation counts one violation of the given kind
func (m *CDRMetrics) RecordViolation(ctx context.Context, kind string) {
	if m == nil || m.violations == nil {
		return
	}
	m.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDocument counts a document outcome: "passed", "rejected", "cleaned" or "quarantined"
func (m *CDRMetrics) RecordDocument(ctx context.Context, result string) {
	if m == nil || m.documents == nil {
		return
	}
	m.documents.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
