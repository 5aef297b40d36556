package flowdeploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/config"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/history"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/instance"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/observability"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/pathtree"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/routing"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/runstate"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/sequencer"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/templates"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/wiring"
)

// Service runs deployments and subtree operations against configured
// instances. It holds no per-request state and is safe for concurrent use.
type Service struct {
	settings  *config.Settings
	instances *instance.Registry
	templates templates.Store
	history   history.Store
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// New creates a Service from settings. A nil settings value means
// config.NewDefaultSettings(). Stores not supplied through options are
// opened from the settings: the template store per settings.Templates, the
// history in SQLite at settings.HistoryPath or in memory when it is empty.
func New(settings *config.Settings, opts ...Option) (*Service, error) {
	if settings == nil {
		settings = config.NewDefaultSettings()
	}
	s := &Service{settings: settings, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = observability.NoopMetrics{}
		if settings.Metrics {
			s.metrics = observability.NewMetricsRecorder()
		}
	}
	if s.spans == nil {
		s.spans = observability.NoopSpanManager{}
		if settings.Tracing {
			s.spans = observability.NewSpanManager()
		}
	}
	if s.instances == nil {
		s.instances = instance.FromSettings(settings, s.logger)
	}

	if s.templates == nil {
		store, err := templates.Open(settings.Templates)
		if err != nil {
			return nil, fmt.Errorf("open template store: %w", err)
		}
		s.templates = store
	}
	if s.history == nil {
		if settings.HistoryPath == "" {
			s.history = history.NewMemoryStore()
		} else {
			store, err := history.NewSQLiteStore(settings.HistoryPath)
			if err != nil {
				_ = s.templates.Close()
				return nil, fmt.Errorf("open history: %w", err)
			}
			s.history = store
		}
	}
	return s, nil
}

// Close releases the template and history stores.
func (s *Service) Close() error {
	return errors.Join(s.templates.Close(), s.history.Close())
}

// Instances returns the instance registry.
func (s *Service) Instances() *instance.Registry { return s.instances }

// Templates returns the template store.
func (s *Service) Templates() templates.Store { return s.templates }

func (s *Service) wiringOptions() []wiring.Option {
	r := s.settings.Router
	return []wiring.Option{
		wiring.WithRouterType(r.Type),
		wiring.WithDialect(routing.Dialect{StrategyProperty: r.StrategyProperty, RuleStrategy: r.RuleStrategy}),
		wiring.WithPredicates(routing.NewPredicateBuilder(r.RuleTemplate, r.Attribute)),
		wiring.WithRestartRouter(r.RestartAfterEdit),
	}
}

func (s *Service) deployer(instanceID string) (*sequencer.Deployer, error) {
	client, err := s.instances.Client(instanceID)
	if err != nil {
		return nil, err
	}
	return sequencer.New(client,
		sequencer.WithTemplates(s.templates),
		sequencer.WithLogger(s.logger.With(slog.String("instance_id", instanceID))),
		sequencer.WithMetrics(s.metrics),
		sequencer.WithSpans(s.spans),
		sequencer.WithWiring(s.wiringOptions()...),
	), nil
}

// Deploy runs one deployment on instanceID and records it in the history.
// The result is returned whenever the pipeline ran, including on error.
func (s *Service) Deploy(ctx context.Context, instanceID string, req sequencer.Request) (*sequencer.Result, error) {
	d, err := s.deployer(instanceID)
	if err != nil {
		return nil, err
	}
	req.InstanceID = instanceID
	res, err := d.Deploy(ctx, req)
	s.record(ctx, instanceID, res)
	return res, err
}

// record appends res to the history, also when ctx was cancelled. A history
// failure is logged only; it never changes the outcome of a deployment.
func (s *Service) record(ctx context.Context, instanceID string, res *sequencer.Result) {
	rec := history.Record{
		DeploymentID:  res.DeploymentID,
		InstanceID:    instanceID,
		TemplateID:    res.TemplateID,
		RegistryID:    res.Target.RegistryID,
		BucketID:      res.Target.BucketID,
		FlowID:        res.Target.FlowID,
		Version:       res.Version,
		ParentGroupID: res.ParentGroupID,
		GroupID:       res.GroupID,
		GroupName:     res.GroupName,
		Status:        res.Status(),
		Warnings:      res.Warnings,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := s.history.Append(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("deployment history not recorded",
			slog.String("deployment_id", res.DeploymentID),
			slog.String("error", err.Error()))
	}
}

// ResolvePath returns the group at path on instanceID, creating missing
// segments.
func (s *Service) ResolvePath(ctx context.Context, instanceID, path string) (*pathtree.Resolution, error) {
	d, err := s.deployer(instanceID)
	if err != nil {
		return nil, err
	}
	res, err := d.Resolver().ResolveOrCreate(ctx, path)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordGroupsCreated(ctx, len(res.Created))
	return res, nil
}

// LookupPath returns the id of the group at path without creating anything.
func (s *Service) LookupPath(ctx context.Context, instanceID, path string) (string, error) {
	d, err := s.deployer(instanceID)
	if err != nil {
		return "", err
	}
	return d.Resolver().Resolve(ctx, path)
}

// AutoConnect wires groupID into parentID. An empty parentID means the
// group's own parent.
func (s *Service) AutoConnect(ctx context.Context, instanceID, groupID, parentID string) (*wiring.Report, error) {
	if groupID == "" {
		return nil, ferrors.BadRequest("auto connect", "group id is required")
	}
	client, err := s.instances.Client(instanceID)
	if err != nil {
		return nil, err
	}
	if parentID == "" {
		g, err := client.GetGroup(ctx, groupID)
		if err != nil {
			return nil, ferrors.Wrap(err, "auto connect", "get group %s", groupID)
		}
		if g.ParentID == "" {
			return nil, ferrors.BadRequest("auto connect", "group %s has no parent", groupID)
		}
		parentID = g.ParentID
	}
	d, err := s.deployer(instanceID)
	if err != nil {
		return nil, err
	}
	return d.Connector().AutoConnect(ctx, groupID, parentID)
}

// SetState moves every component beneath groupID to state.
func (s *Service) SetState(
	ctx context.Context, instanceID, groupID string, state canvas.RunState,
) (*runstate.Report, error) {
	d, err := s.deployer(instanceID)
	if err != nil {
		return nil, err
	}
	return d.States().SetState(ctx, groupID, state)
}

// History lists recorded deployments, most recent first.
func (s *Service) History(ctx context.Context, f history.Filter) ([]history.Record, error) {
	return s.history.List(ctx, f)
}

// Deployment returns one recorded deployment.
func (s *Service) Deployment(ctx context.Context, deploymentID string) (*history.Record, error) {
	return s.history.Get(ctx, deploymentID)
}
