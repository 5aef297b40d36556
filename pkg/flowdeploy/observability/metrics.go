package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records deployment metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDeployment records a finished deployment with its outcome.
	RecordDeployment(ctx context.Context, outcome string, duration time.Duration)

	// RecordStep records one pipeline step with its status.
	RecordStep(ctx context.Context, step, status string)

	// RecordGroupsCreated records groups created while resolving a path.
	RecordGroupsCreated(ctx context.Context, n int)

	// RecordStateTransition records one component state change attempt.
	RecordStateTransition(ctx context.Context, kind, state string, err error)
}

type otelMetrics struct {
	deployments   metric.Int64Counter
	deployLatency metric.Float64Histogram
	steps         metric.Int64Counter
	groupsCreated metric.Int64Counter
	transitions   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flowdeploy")

	deployments, err := meter.Int64Counter("flowdeploy.deployments",
		metric.WithDescription("Number of deployments by outcome"),
	)
	if err != nil {
		return nil, err
	}

	deployLatency, err := meter.Float64Histogram("flowdeploy.deploy.latency_ms",
		metric.WithDescription("Deployment latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	steps, err := meter.Int64Counter("flowdeploy.steps",
		metric.WithDescription("Number of deployment steps by status"),
	)
	if err != nil {
		return nil, err
	}

	groupsCreated, err := meter.Int64Counter("flowdeploy.groups.created",
		metric.WithDescription("Number of process groups created for missing paths"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("flowdeploy.state.transitions",
		metric.WithDescription("Number of component state transitions attempted"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		deployments:   deployments,
		deployLatency: deployLatency,
		steps:         steps,
		groupsCreated: groupsCreated,
		transitions:   transitions,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider, or a no-op recorder if instruments cannot be created.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordDeployment(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.deployments.Add(ctx, 1, attrs)
	m.deployLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordStep(ctx context.Context, step, status string) {
	m.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

func (m *otelMetrics) RecordGroupsCreated(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.groupsCreated.Add(ctx, int64(n))
}

func (m *otelMetrics) RecordStateTransition(ctx context.Context, kind, state string, err error) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("state", state),
		attribute.Bool("success", err == nil),
	))
}
