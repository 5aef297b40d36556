package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordDeployment does nothing.
func (NoopMetrics) RecordDeployment(_ context.Context, _ string, _ time.Duration) {}

// RecordStep does nothing.
func (NoopMetrics) RecordStep(_ context.Context, _, _ string) {}

// RecordGroupsCreated does nothing.
func (NoopMetrics) RecordGroupsCreated(_ context.Context, _ int) {}

// RecordStateTransition does nothing.
func (NoopMetrics) RecordStateTransition(_ context.Context, _, _ string, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartDeploySpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartDeploySpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStepSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartStepSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
