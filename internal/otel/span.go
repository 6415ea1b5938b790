// Package otel holds span helpers shared by the fetch and CDR stages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys used on spans across the binaries
const (
	AttrRunID        = attribute.Key("cc.run_id")
	AttrEnv          = attribute.Key("cc.env")
	AttrDate         = attribute.Key("cc.date")
	AttrSourceName   = attribute.Key("cc.source.name")
	AttrSourceStatus = attribute.Key("cc.source.status")
	AttrOutputPath   = attribute.Key("cc.output.path")
	AttrFileCount    = attribute.Key("cc.file.count")
	AttrViolations   = attribute.Key("cc.violation.count")
)

// StartSpan starts a span if tracer is non-nil. Without a tracer it returns
// ctx unchanged and a no-op span, so ending it never ends a caller's span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed. The status
// description stays generic; source payload fragments can appear in plugin
// errors and only the exception event carries them.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
