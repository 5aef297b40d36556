package flowdeploy

import (
	"log/slog"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/history"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/instance"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/observability"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/templates"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
// Default: OTel metrics when settings enable them, otherwise no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpans sets the span manager.
// Default: OTel tracing when settings enable it, otherwise no-op.
func WithSpans(sm observability.SpanManager) Option {
	return func(s *Service) {
		if sm != nil {
			s.spans = sm
		}
	}
}

// WithInstances replaces the registry built from the settings.
//
// Example:
//
//	reg := instance.New(logger)
//	reg.Register("test", canvastest.New("root"))
//	svc, err := flowdeploy.New(settings, flowdeploy.WithInstances(reg))
func WithInstances(reg *instance.Registry) Option {
	return func(s *Service) {
		if reg != nil {
			s.instances = reg
		}
	}
}

// WithTemplateStore replaces the store opened from the settings.
// The service closes it on Close.
func WithTemplateStore(store templates.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.templates = store
		}
	}
}

// WithHistoryStore replaces the store opened from the settings.
// The service closes it on Close.
func WithHistoryStore(store history.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.history = store
		}
	}
}
