package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &rec))
	return rec
}

func TestEnrichLogger(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, "d", "i"))

	var buf bytes.Buffer
	EnrichLogger(jsonLogger(&buf), "dep-1", "prod").Info("hello")
	rec := lastRecord(t, &buf)
	assert.Equal(t, "dep-1", rec["deployment_id"])
	assert.Equal(t, "prod", rec["instance_id"])
}

func TestLogHelpers(t *testing.T) {
	t.Run("nil logger is safe", func(t *testing.T) {
		assert.NotPanics(t, func() {
			LogDeployStart(nil, "d", "f")
			LogDeployComplete(nil, "d", "g", 1, 0)
			LogDeployError(nil, "d", errors.New("x"), 1, "s")
			LogStepWarning(nil, "s", "m")
			LogStateTransitionError(nil, "c", "PROCESSOR", "RUNNING", errors.New("x"))
		})
	})

	t.Run("deploy complete fields", func(t *testing.T) {
		var buf bytes.Buffer
		LogDeployComplete(jsonLogger(&buf), "dep-1", "g-1", 12, 2)
		rec := lastRecord(t, &buf)
		assert.Equal(t, "deployment completed", rec["msg"])
		assert.Equal(t, "g-1", rec["group_id"])
		assert.EqualValues(t, 12, rec["duration_ms"])
		assert.EqualValues(t, 2, rec["warnings"])
	})

	t.Run("deploy error fields", func(t *testing.T) {
		var buf bytes.Buffer
		LogDeployError(jsonLogger(&buf), "dep-1", errors.New("conflict"), 3, "check-collision")
		rec := lastRecord(t, &buf)
		assert.Equal(t, "ERROR", rec["level"])
		assert.Equal(t, "conflict", rec["error"])
		assert.Equal(t, "check-collision", rec["step"])
	})

	t.Run("state transition error", func(t *testing.T) {
		var buf bytes.Buffer
		LogStateTransitionError(jsonLogger(&buf), "p1", "PROCESSOR", "DISABLED", errors.New("invalid"))
		rec := lastRecord(t, &buf)
		assert.Equal(t, "WARN", rec["level"])
		assert.Equal(t, "p1", rec["component_id"])
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(1))
}

func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func findSum(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "expected Sum for %s", name)
				return sum
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Sum[int64]{}
}

func total(sum metricdata.Sum[int64]) int64 {
	var n int64
	for _, dp := range sum.DataPoints {
		n += dp.Value
	}
	return n
}

func TestOtelMetrics(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordDeployment(ctx, "deployed", 40*time.Millisecond)
	m.RecordDeployment(ctx, "failed", 10*time.Millisecond)
	m.RecordStep(ctx, "materialize", "ok")
	m.RecordGroupsCreated(ctx, 2)
	m.RecordGroupsCreated(ctx, 0)
	m.RecordStateTransition(ctx, "PROCESSOR", "RUNNING", nil)
	m.RecordStateTransition(ctx, "PROCESSOR", "RUNNING", errors.New("x"))

	assert.Equal(t, int64(2), total(findSum(t, reader, "flowdeploy.deployments")))
	assert.Equal(t, int64(1), total(findSum(t, reader, "flowdeploy.steps")))
	assert.Equal(t, int64(2), total(findSum(t, reader, "flowdeploy.groups.created")))

	transitions := findSum(t, reader, "flowdeploy.state.transitions")
	assert.Len(t, transitions.DataPoints, 2)
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)
	_, isNoop := NewMetricsRecorder().(NoopMetrics)
	assert.False(t, isNoop)
}

func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("flowdeploy")
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestSpans(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, deploy := sm.StartDeploySpan(context.Background(), "dep-1", "prod")
	stepCtx, step := sm.StartStepSpan(ctx, "materialize")
	sm.AddSpanEvent(stepCtx, "group.created", attribute.String("group.id", "g1"))
	sm.EndSpanWithError(step, errors.New("boom"))
	sm.EndSpanWithError(deploy, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "flowdeploy.step.materialize", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.Len(t, spans[0].Events, 2) // event plus recorded error
	assert.Equal(t, "group.created", spans[0].Events[0].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())

	assert.Equal(t, "flowdeploy.deploy", spans[1].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
	assert.Contains(t, spans[1].Attributes, attribute.String("deployment.id", "dep-1"))
}

func TestNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		var m MetricsRecorder = NoopMetrics{}
		m.RecordDeployment(context.Background(), "x", 0)
		m.RecordStep(context.Background(), "s", "ok")
		m.RecordGroupsCreated(context.Background(), 1)
		m.RecordStateTransition(context.Background(), "k", "s", nil)

		var s SpanManager = NoopSpanManager{}
		ctx := context.Background()
		got, span := s.StartDeploySpan(ctx, "d", "i")
		assert.Equal(t, ctx, got)
		s.AddSpanEvent(got, "e")
		s.EndSpanWithError(span, errors.New("x"))
	})
	EndSpanWithError(nil, nil)
}
