// dcdcomplete/helpers_metrics.go
// OpenTelemetry instruments recorded around every dcd-client invocation.
package dcdcomplete

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/shehackedyou/dcdcomplete"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

var (
	toolInvocations metric.Int64Counter
	toolLatency     metric.Float64Histogram
	toolResultCount metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments on first use. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		toolInvocations, err = meter.Int64Counter(
			"dcdcomplete_tool_invocations_total",
			metric.WithDescription("Total number of dcd-client invocations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolLatency, err = meter.Float64Histogram(
			"dcdcomplete_tool_duration_seconds",
			metric.WithDescription("Duration of dcd-client invocations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		toolResultCount, err = meter.Int64Histogram(
			"dcdcomplete_result_count",
			metric.WithDescription("Number of candidates or targets produced per request"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startToolSpan opens a span for one dcd-client invocation.
func startToolSpan(ctx context.Context, operation, filePath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dcdclient."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("dcd.operation", operation),
			attribute.String("dcd.file_path", filePath),
		),
	)
}

// endToolSpan records the outcome on span and ends it.
func endToolSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordToolMetrics records latency and outcome of a dcd-client invocation.
func recordToolMetrics(ctx context.Context, operation string, duration time.Duration, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	toolInvocations.Add(ctx, 1, attrs)
	toolLatency.Record(ctx, duration.Seconds(), attrs)
}

// recordResultCount records how many results a request produced.
func recordResultCount(ctx context.Context, operation string, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	toolResultCount.Record(ctx, int64(count), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
