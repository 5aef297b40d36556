// Package runstate transitions every component beneath a group to one run
// state.
//
// Processors, input ports and output ports of the whole subtree are listed
// with the engine's recursive listing and moved one call at a time, each
// with the revision it was listed with. A failing component is logged and
// counted; it never stops the rest of the subtree.
package runstate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/observability"
)

const opSetState = "set state"

// Canvas is the subset of the remote client the controller uses.
type Canvas interface {
	canvas.PortLister
	ListProcessors(ctx context.Context, groupID string, recursive bool) ([]canvas.Processor, error)
	canvas.StateSetter
}

// Category groups components in a report.
type Category string

// Categories, in the order they are processed.
const (
	CategoryProcessors  Category = "processors"
	CategoryInputPorts  Category = "input_ports"
	CategoryOutputPorts Category = "output_ports"
)

// Counts summarises one category.
type Counts struct {
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	ListError string `json:"list_error,omitempty"`
}

// Failure is one component that did not reach the target state.
type Failure struct {
	Category    Category `json:"category"`
	ComponentID string   `json:"component_id"`
	Name        string   `json:"name"`
	Error       string   `json:"error"`
}

// Report is the outcome of SetState.
type Report struct {
	GroupID    string               `json:"group_id"`
	State      canvas.RunState      `json:"state"`
	Categories map[Category]*Counts `json:"categories"`
	Failures   []Failure            `json:"failures,omitempty"`
}

func newReport(groupID string, state canvas.RunState) *Report {
	return &Report{
		GroupID: groupID,
		State:   state,
		Categories: map[Category]*Counts{
			CategoryProcessors:  {},
			CategoryInputPorts:  {},
			CategoryOutputPorts: {},
		},
	}
}

// Succeeded returns the number of components that reached the state.
func (r *Report) Succeeded() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Succeeded
	}
	return n
}

// Failed returns the number of components that did not.
func (r *Report) Failed() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Failed
	}
	return n
}

// Warnings returns one line per listing failure and per failed component.
func (r *Report) Warnings() []string {
	var out []string
	for _, cat := range []Category{CategoryProcessors, CategoryInputPorts, CategoryOutputPorts} {
		if c := r.Categories[cat]; c.ListError != "" {
			out = append(out, fmt.Sprintf("list %s: %s", cat, c.ListError))
		}
	}
	for _, f := range r.Failures {
		out = append(out, fmt.Sprintf("%s %s (%s): %s", f.Category, f.ComponentID, f.Name, f.Error))
	}
	return out
}

// Controller changes run state across a subtree.
type Controller struct {
	client  Canvas
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewController creates a Controller.
func NewController(client Canvas, opts ...Option) *Controller {
	c := &Controller{
		client:  client,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetState moves every processor and port beneath groupID to state. The
// error is non-nil only for an invalid state; component and listing
// failures are carried in the report.
func (c *Controller) SetState(ctx context.Context, groupID string, state canvas.RunState) (*Report, error) {
	if !state.Valid() {
		return nil, ferrors.BadRequest(opSetState, "unsupported run state %q", state)
	}
	report := newReport(groupID, state)

	procs, err := c.client.ListProcessors(ctx, groupID, true)
	if err != nil {
		c.listFailed(report, CategoryProcessors, err)
	} else {
		for _, p := range procs {
			c.transition(ctx, report, CategoryProcessors, p.Component(), state)
		}
	}

	inputs, err := c.client.ListInputPorts(ctx, groupID, true)
	if err != nil {
		c.listFailed(report, CategoryInputPorts, err)
	} else {
		for _, p := range inputs {
			c.transition(ctx, report, CategoryInputPorts, p.Component(), state)
		}
	}

	outputs, err := c.client.ListOutputPorts(ctx, groupID, true)
	if err != nil {
		c.listFailed(report, CategoryOutputPorts, err)
	} else {
		for _, p := range outputs {
			c.transition(ctx, report, CategoryOutputPorts, p.Component(), state)
		}
	}

	c.logger.Info("subtree state changed",
		slog.String("group_id", groupID),
		slog.String("state", string(state)),
		slog.Int("succeeded", report.Succeeded()),
		slog.Int("failed", report.Failed()))
	return report, nil
}

func (c *Controller) listFailed(report *Report, cat Category, err error) {
	report.Categories[cat].ListError = err.Error()
	c.logger.Warn("component listing failed",
		slog.String("group_id", report.GroupID),
		slog.String("category", string(cat)),
		slog.String("error", err.Error()))
}

// transition moves one component. RUNNING and DISABLED are not adjacent, so
// a move between them passes through STOPPED using the intermediate revision.
func (c *Controller) transition(
	ctx context.Context, report *Report, cat Category, comp canvas.Component, state canvas.RunState,
) {
	counts := report.Categories[cat]
	counts.Total++

	err := c.apply(ctx, comp, state)
	c.metrics.RecordStateTransition(ctx, string(comp.Kind), string(state), err)
	if err != nil {
		counts.Failed++
		report.Failures = append(report.Failures, Failure{
			Category:    cat,
			ComponentID: comp.ID,
			Name:        comp.Name,
			Error:       err.Error(),
		})
		observability.LogStateTransitionError(c.logger, comp.ID, string(comp.Kind), string(state), err)
		return
	}
	counts.Succeeded++
}

func (c *Controller) apply(ctx context.Context, comp canvas.Component, state canvas.RunState) error {
	if needsStop(comp.State, state) {
		rev, err := c.client.SetRunState(ctx, comp, canvas.StateStopped)
		if err != nil {
			return fmt.Errorf("stop before %s: %w", state, err)
		}
		comp.Revision = rev
		comp.State = canvas.StateStopped
	}
	_, err := c.client.SetRunState(ctx, comp, state)
	return err
}

func needsStop(from, to canvas.RunState) bool {
	return (from == canvas.StateRunning && to == canvas.StateDisabled) ||
		(from == canvas.StateDisabled && to == canvas.StateRunning)
}
