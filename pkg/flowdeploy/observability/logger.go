// Package observability provides logging helpers, metrics and tracing for
// deployments.
//
// Logging uses slog. Metrics and spans use the global OpenTelemetry
// providers and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds deployment context to a logger.
func EnrichLogger(logger *slog.Logger, deploymentID, instanceID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("deployment_id", deploymentID),
		slog.String("instance_id", instanceID),
	)
}

// LogDeployStart logs the start of a deployment.
func LogDeployStart(logger *slog.Logger, deploymentID, flow string) {
	if logger == nil {
		return
	}
	logger.Info("deployment starting",
		slog.String("deployment_id", deploymentID),
		slog.String("flow", flow),
	)
}

// LogDeployComplete logs a successful deployment.
func LogDeployComplete(logger *slog.Logger, deploymentID, groupID string, durationMs float64, warnings int) {
	if logger == nil {
		return
	}
	logger.Info("deployment completed",
		slog.String("deployment_id", deploymentID),
		slog.String("group_id", groupID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("warnings", warnings),
	)
}

// LogDeployError logs a failed deployment.
func LogDeployError(logger *slog.Logger, deploymentID string, err error, durationMs float64, step string) {
	if logger == nil {
		return
	}
	logger.Error("deployment failed",
		slog.String("deployment_id", deploymentID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("step", step),
	)
}

// LogStepWarning logs a best-effort step that degraded.
func LogStepWarning(logger *slog.Logger, step, message string) {
	if logger == nil {
		return
	}
	logger.Warn("deployment step degraded",
		slog.String("step", step),
		slog.String("warning", message),
	)
}

// LogStateTransitionError logs a component that failed to change state.
func LogStateTransitionError(logger *slog.Logger, componentID, kind, state string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("state transition failed",
		slog.String("component_id", componentID),
		slog.String("component_kind", kind),
		slog.String("state", state),
		slog.String("error", err.Error()),
	)
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield Info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// TimedOperation returns a function reporting elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
