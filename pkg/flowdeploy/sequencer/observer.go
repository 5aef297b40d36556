package sequencer

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/observability"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/pipeline"
)

// stepObserver gives every step a span, a metric and a warning log line.
type stepObserver struct {
	spans   observability.SpanManager
	metrics observability.MetricsRecorder
	logger  *slog.Logger
}

func (o *stepObserver) StepStarted(ctx context.Context, step string) context.Context {
	ctx, _ = o.spans.StartStepSpan(ctx, step)
	return ctx
}

func (o *stepObserver) StepFinished(ctx context.Context, exec pipeline.StepExecution, err error) {
	o.metrics.RecordStep(ctx, exec.StepName, string(exec.Status))
	span := trace.SpanFromContext(ctx)
	switch exec.Status {
	case pipeline.StatusFailed:
		o.spans.EndSpanWithError(span, err)
	case pipeline.StatusWarning:
		observability.LogStepWarning(o.logger, exec.StepName, exec.Message)
		o.spans.AddSpanEvent(ctx, "step.warning", attribute.String("warning", exec.Message))
		o.spans.EndSpanWithError(span, nil)
	default:
		o.spans.EndSpanWithError(span, nil)
	}
}
