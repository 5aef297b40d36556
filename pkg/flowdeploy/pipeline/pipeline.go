// Package pipeline runs a fixed sequence of steps over shared state.
//
// Each step returns a typed Result: Ok, Warning, Skipped or Fatal. Warnings
// are collected and execution continues; the first Fatal result stops the
// pipeline and is returned as the error. A Fatal result from an Optional
// step is downgraded to a warning. Once the context is cancelled, remaining
// Optional steps are not run and each records a warning. Nothing is undone
// when a later step fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Status represents the state of a step or execution.
type Status string

// Status constants.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusOK        Status = "ok"
	StatusWarning   Status = "warning"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeWarning
	outcomeSkipped
	outcomeFatal
)

// Result is the outcome of one step.
type Result struct {
	outcome outcome
	message string
	err     error
}

// Ok reports success.
func Ok() Result {
	return Result{outcome: outcomeOK}
}

// Warn reports a degraded but non-fatal outcome.
func Warn(format string, args ...any) Result {
	return Result{outcome: outcomeWarning, message: fmt.Sprintf(format, args...)}
}

// Warning reports err as a non-fatal outcome.
func Warning(err error) Result {
	return Result{outcome: outcomeWarning, message: err.Error(), err: err}
}

// Skip reports that the step had nothing to do.
func Skip(reason string) Result {
	return Result{outcome: outcomeSkipped, message: reason}
}

// Fatal reports a failure that aborts the pipeline.
func Fatal(err error) Result {
	if err == nil {
		err = errors.New("step failed")
	}
	return Result{outcome: outcomeFatal, message: err.Error(), err: err}
}

// IsFatal reports whether r aborts the pipeline.
func (r Result) IsFatal() bool { return r.outcome == outcomeFatal }

// IsWarning reports whether r is a warning.
func (r Result) IsWarning() bool { return r.outcome == outcomeWarning }

// Message returns the warning, skip reason or error text.
func (r Result) Message() string { return r.message }

// Err returns the underlying error of a Warning or Fatal result.
func (r Result) Err() error { return r.err }

// Step is one stage of a pipeline over state S.
type Step[S any] struct {
	// Name identifies the step in logs, metrics and the execution record.
	Name string

	// Run performs the step.
	Run func(ctx context.Context, state *S) Result

	// Optional marks the step as best-effort. Fatal results become warnings.
	Optional bool
}

// Definition is an ordered list of steps.
type Definition[S any] struct {
	Name  string
	Steps []Step[S]
}

// Validate checks the definition for errors.
func (d *Definition[S]) Validate() error {
	if d.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(d.Steps) == 0 {
		return errors.New("pipeline must have at least one step")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if step.Run == nil {
			return fmt.Errorf("step %d (%s): run is required", i, step.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("step %d: duplicate name %q", i, step.Name)
		}
		seen[step.Name] = true
	}
	return nil
}

// StepExecution records a single step's execution.
type StepExecution struct {
	StepName   string        `json:"step_name"`
	Status     Status        `json:"status"`
	Optional   bool          `json:"optional,omitempty"`
	Message    string        `json:"message,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Execution records a complete run.
type Execution struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	Steps      []StepExecution `json:"steps"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// Step returns the record of the named step.
func (e *Execution) Step(name string) (StepExecution, bool) {
	for _, s := range e.Steps {
		if s.StepName == name {
			return s, true
		}
	}
	return StepExecution{}, false
}

// Observer is notified around every step.
type Observer interface {
	// StepStarted may return a derived context passed to the step.
	StepStarted(ctx context.Context, step string) context.Context

	// StepFinished receives the completed step record and the step's error,
	// if any.
	StepFinished(ctx context.Context, exec StepExecution, err error)
}

type runConfig struct {
	id       string
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a run.
type Option func(*runConfig)

// WithID sets the execution id. Default: a random UUID.
func WithID(id string) Option {
	return func(c *runConfig) {
		if id != "" {
			c.id = id
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets a step observer.
func WithObserver(o Observer) Option {
	return func(c *runConfig) {
		c.observer = o
	}
}

// Run executes the steps in order against state. It returns the execution
// record and, if a non-optional step failed or the context was cancelled
// before one, that error.
func (d *Definition[S]) Run(ctx context.Context, state *S, opts ...Option) (*Execution, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	cfg := runConfig{
		id:     uuid.NewString(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	exec := &Execution{
		ID:        cfg.id,
		Name:      d.Name,
		Status:    StatusRunning,
		Steps:     make([]StepExecution, len(d.Steps)),
		StartedAt: cfg.now(),
	}
	for i, step := range d.Steps {
		exec.Steps[i] = StepExecution{StepName: step.Name, Status: StatusPending, Optional: step.Optional}
	}

	for i := range d.Steps {
		step := &d.Steps[i]
		rec := &exec.Steps[i]

		cancelled := ctx.Err()
		if cancelled != nil && !step.Optional {
			return d.fail(cfg, exec, step.Name, cancelled)
		}

		stepCtx := ctx
		if cfg.observer != nil {
			stepCtx = cfg.observer.StepStarted(ctx, step.Name)
		}

		rec.Status = StatusRunning
		rec.StartedAt = cfg.now()
		var res Result
		if cancelled != nil {
			res = Warning(fmt.Errorf("not run: %w", cancelled))
		} else {
			res = step.Run(stepCtx, state)
		}
		rec.FinishedAt = cfg.now()
		rec.Duration = rec.FinishedAt.Sub(rec.StartedAt)
		rec.Message = res.message

		if res.outcome == outcomeFatal && step.Optional {
			res.outcome = outcomeWarning
		}

		switch res.outcome {
		case outcomeOK:
			rec.Status = StatusOK
			cfg.logger.Debug("pipeline step completed",
				slog.String("pipeline_id", exec.ID),
				slog.String("step", step.Name))
		case outcomeSkipped:
			rec.Status = StatusSkipped
			cfg.logger.Debug("pipeline step skipped",
				slog.String("pipeline_id", exec.ID),
				slog.String("step", step.Name),
				slog.String("reason", res.message))
		case outcomeWarning:
			rec.Status = StatusWarning
			exec.Warnings = append(exec.Warnings, fmt.Sprintf("%s: %s", step.Name, res.message))
			cfg.logger.Debug("pipeline step degraded",
				slog.String("pipeline_id", exec.ID),
				slog.String("step", step.Name),
				slog.String("warning", res.message))
		case outcomeFatal:
			rec.Status = StatusFailed
		}

		if cfg.observer != nil {
			cfg.observer.StepFinished(stepCtx, *rec, res.err)
		}

		if res.outcome == outcomeFatal {
			return d.fail(cfg, exec, step.Name, res.err)
		}
	}

	exec.Status = StatusCompleted
	exec.FinishedAt = cfg.now()
	return exec, nil
}

func (d *Definition[S]) fail(cfg runConfig, exec *Execution, step string, err error) (*Execution, error) {
	exec.Status = StatusFailed
	exec.Error = err.Error()
	exec.FinishedAt = cfg.now()
	cfg.logger.Error("pipeline step failed",
		slog.String("pipeline_id", exec.ID),
		slog.String("pipeline", d.Name),
		slog.String("step", step),
		slog.String("error", err.Error()))
	return exec, err
}
