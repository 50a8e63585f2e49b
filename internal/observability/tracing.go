// Package observability configures OpenTelemetry tracing for convertd.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"convertd/internal/config"
)

const tracerName = "convertd"

// Span names shared across packages.
const (
	SpanSubmit  = "gateway.submit"
	SpanTrigger = "dispatch.trigger"
	SpanExecute = "dispatch.execute"
	SpanSweep   = "reaper.sweep"
)

// Attribute keys attached to spans.
const (
	AttrExecutionID = attribute.Key("convertd.execution_id")
	AttrTool        = attribute.Key("convertd.tool")
	AttrAttempt     = attribute.Key("convertd.attempt")
	AttrOutcome     = attribute.Key("convertd.outcome")
)

// InitTracing installs the global tracer provider. When tracing is disabled
// the default no-op provider stays in place. The returned shutdown flushes
// pending spans.
func InitTracing(ctx context.Context, cfg config.Tracing, w io.Writer) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if w == nil {
		w = os.Stdout
	}

	var exp sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "stdout":
		var err error
		exp, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("tracing exporter %q is not supported", cfg.Exporter)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the global convertd tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// ExecutionAttrs returns the identifying span attributes for an execution.
func ExecutionAttrs(executionID, tool string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrExecutionID.String(executionID)}
	if tool != "" {
		attrs = append(attrs, AttrTool.String(tool))
	}
	return attrs
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
