// Package sequencer deploys a registry flow version into a group of the
// remote canvas.
//
// A deployment is a linear pipeline of steps. Coordinate, parent and
// collision checks and the deploy call itself are fatal. Identifier and
// version resolution degrade to warnings. Everything after the deploy call
// is best-effort and never undoes the deployed group.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/observability"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/pathtree"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/pipeline"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/runstate"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/templates"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/wiring"
)

// Target addresses a flow in a registry. An empty Version means latest.
// RegistryID, BucketID and FlowID may be names; they are resolved to ids
// where the registry supports it.
type Target struct {
	RegistryID string `json:"registry_id"`
	BucketID   string `json:"bucket_id"`
	FlowID     string `json:"flow_id"`
	Version    string `json:"version,omitempty"`
}

func (t Target) String() string {
	v := t.Version
	if v == "" {
		v = "latest"
	}
	return fmt.Sprintf("%s/%s/%s@%s", t.RegistryID, t.BucketID, t.FlowID, v)
}

// PostActions are optional steps run after the deploy call, in the order
// auto-connect, detach, state change.
type PostActions struct {
	AutoConnect          bool `json:"auto_connect,omitempty"`
	Start                bool `json:"start,omitempty"`
	Disable              bool `json:"disable,omitempty"`
	DetachVersionControl bool `json:"detach_version_control,omitempty"`
}

// State returns the requested run state, or "" when none was requested.
func (p PostActions) State() canvas.RunState {
	switch {
	case p.Start:
		return canvas.StateRunning
	case p.Disable:
		return canvas.StateDisabled
	}
	return ""
}

// Request describes one deployment. Either TemplateID or a complete Target
// is required. ParentPath takes a logical path that is created as needed;
// ParentID names an existing group. With neither, the root group is used.
type Request struct {
	InstanceID       string
	TemplateID       string
	Target           Target
	ParentPath       string
	ParentID         string
	DisplayName      string
	ParameterContext string
	Position         *canvas.Position
	PostActions      PostActions
}

// Outcome strings reported by Result.Status.
const (
	StatusDeployed             = "deployed"
	StatusDeployedWithWarnings = "deployed_with_warnings"
	StatusFailed               = "failed"
)

// Result describes a deployment. On failure it holds whatever was resolved
// before the failing step.
type Result struct {
	DeploymentID  string                   `json:"deployment_id"`
	TemplateID    string                   `json:"template_id,omitempty"`
	Target        Target                   `json:"target"`
	ParentGroupID string                   `json:"parent_group_id,omitempty"`
	CreatedGroups []canvas.Group           `json:"created_groups,omitempty"`
	GroupID       string                   `json:"group_id,omitempty"`
	GroupName     string                   `json:"group_name,omitempty"`
	Version       string                   `json:"version,omitempty"`
	Warnings      []string                 `json:"warnings,omitempty"`
	Steps         []pipeline.StepExecution `json:"steps,omitempty"`
	Wiring        *wiring.Report           `json:"wiring,omitempty"`
	State         *runstate.Report         `json:"state,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	FinishedAt    time.Time                `json:"finished_at"`
	Err           error                    `json:"-"`
}

// Status returns deployed, deployed_with_warnings or failed.
func (r *Result) Status() string {
	switch {
	case r.Err != nil || r.GroupID == "":
		return StatusFailed
	case len(r.Warnings) > 0:
		return StatusDeployedWithWarnings
	default:
		return StatusDeployed
	}
}

// Deployer runs deployments against one engine.
type Deployer struct {
	client    canvas.Client
	templates templates.Store
	resolver  *pathtree.Resolver
	connector *wiring.Connector
	states    *runstate.Controller
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	wiringOps []wiring.Option
	def       *pipeline.Definition[deployState]
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithTemplates sets the store used to resolve Request.TemplateID.
func WithTemplates(store templates.Store) Option {
	return func(d *Deployer) {
		d.templates = store
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *Deployer) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSpans sets the span manager. Default: no-op.
func WithSpans(s observability.SpanManager) Option {
	return func(d *Deployer) {
		if s != nil {
			d.spans = s
		}
	}
}

// WithWiring passes options to the port auto-connector.
func WithWiring(opts ...wiring.Option) Option {
	return func(d *Deployer) {
		d.wiringOps = append(d.wiringOps, opts...)
	}
}

// New creates a Deployer for client.
func New(client canvas.Client, opts ...Option) *Deployer {
	d := &Deployer{
		client:  client,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.resolver = pathtree.NewResolver(client, pathtree.WithLogger(d.logger))
	d.connector = wiring.NewConnector(client, append([]wiring.Option{wiring.WithLogger(d.logger)}, d.wiringOps...)...)
	d.states = runstate.NewController(client, runstate.WithLogger(d.logger), runstate.WithMetrics(d.metrics))
	d.def = d.definition()
	return d
}

// Connector returns the auto-connector used for post actions.
func (d *Deployer) Connector() *wiring.Connector { return d.connector }

// States returns the subtree state controller used for post actions.
func (d *Deployer) States() *runstate.Controller { return d.states }

// Resolver returns the path resolver used for parent paths.
func (d *Deployer) Resolver() *pathtree.Resolver { return d.resolver }

// Deploy runs a deployment. The result is returned even on error and
// records the steps that ran.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	id := uuid.NewString()
	logger := observability.EnrichLogger(d.logger, id, req.InstanceID)
	elapsed := observability.TimedOperation()

	ctx, span := d.spans.StartDeploySpan(ctx, id, req.InstanceID)
	st := &deployState{
		req:    req,
		target: req.Target,
		logger: logger,
		result: &Result{DeploymentID: id, TemplateID: req.TemplateID, StartedAt: time.Now().UTC()},
	}
	observability.LogDeployStart(logger, id, describe(req))

	exec, err := d.def.Run(ctx, st,
		pipeline.WithID(id),
		pipeline.WithLogger(logger),
		pipeline.WithObserver(&stepObserver{spans: d.spans, metrics: d.metrics, logger: logger}))

	res := st.result
	res.Target = st.target
	res.FinishedAt = time.Now().UTC()
	if exec != nil {
		res.Steps = exec.Steps
		res.Warnings = exec.Warnings
	}
	res.Err = err

	d.metrics.RecordDeployment(ctx, res.Status(), res.FinishedAt.Sub(res.StartedAt))
	d.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogDeployError(logger, id, err, elapsed(), failedStep(exec))
		return res, err
	}
	observability.LogDeployComplete(logger, id, res.GroupID, elapsed(), len(res.Warnings))
	return res, nil
}

func describe(req Request) string {
	if req.TemplateID != "" {
		return "template:" + req.TemplateID
	}
	return req.Target.String()
}

func failedStep(exec *pipeline.Execution) string {
	if exec == nil {
		return ""
	}
	for _, s := range exec.Steps {
		if s.Status == pipeline.StatusFailed {
			return s.StepName
		}
	}
	return ""
}
