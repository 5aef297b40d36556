package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/pipeline"
)

// Step names, in execution order.
const (
	StepResolveCoordinates = "resolve-coordinates"
	StepResolveRegistry    = "resolve-registry"
	StepResolveParent      = "resolve-parent"
	StepResolveIdentifiers = "resolve-identifiers"
	StepResolveVersion     = "resolve-version"
	StepCheckCollision     = "check-collision"
	StepMaterialize        = "materialize"
	StepRename             = "rename"
	StepParameterContext   = "assign-parameter-context"
	StepAutoConnect        = "auto-connect"
	StepDetach             = "detach-version-control"
	StepSetState           = "set-state"
)

type deployState struct {
	req      Request
	target   Target
	registry *canvas.RegistryClient
	flowName string
	parentID string
	children int
	group    *canvas.Group
	logger   *slog.Logger
	result   *Result
}

func (d *Deployer) definition() *pipeline.Definition[deployState] {
	return &pipeline.Definition[deployState]{
		Name: "deploy",
		Steps: []pipeline.Step[deployState]{
			{Name: StepResolveCoordinates, Run: d.resolveCoordinates},
			{Name: StepResolveRegistry, Run: d.resolveRegistry},
			{Name: StepResolveParent, Run: d.resolveParent},
			{Name: StepResolveIdentifiers, Run: d.resolveIdentifiers},
			{Name: StepResolveVersion, Run: d.resolveVersion},
			{Name: StepCheckCollision, Run: d.checkCollision},
			{Name: StepMaterialize, Run: d.materialize},
			{Name: StepRename, Run: d.rename, Optional: true},
			{Name: StepParameterContext, Run: d.assignParameterContext, Optional: true},
			{Name: StepAutoConnect, Run: d.autoConnect, Optional: true},
			{Name: StepDetach, Run: d.detach, Optional: true},
			{Name: StepSetState, Run: d.setState, Optional: true},
		},
	}
}

func (d *Deployer) resolveCoordinates(ctx context.Context, st *deployState) pipeline.Result {
	req := st.req
	if req.PostActions.Start && req.PostActions.Disable {
		return pipeline.Fatal(ferrors.BadRequest(StepResolveCoordinates, "start and disable are mutually exclusive"))
	}
	if req.ParentPath != "" && req.ParentID != "" {
		return pipeline.Fatal(ferrors.BadRequest(StepResolveCoordinates, "give a parent path or a parent id, not both"))
	}

	if req.TemplateID != "" {
		if d.templates == nil {
			return pipeline.Fatal(ferrors.BadRequest(StepResolveCoordinates, "no template store configured"))
		}
		tpl, err := d.templates.Get(ctx, req.TemplateID)
		if err != nil {
			return pipeline.Fatal(err)
		}
		st.target = Target{
			RegistryID: tpl.RegistryID,
			BucketID:   tpl.BucketID,
			FlowID:     tpl.FlowID,
			Version:    tpl.Version,
		}
		if req.Target.Version != "" {
			st.target.Version = req.Target.Version
		}
		return pipeline.Ok()
	}

	var missing []string
	if st.target.RegistryID == "" {
		missing = append(missing, "registry")
	}
	if st.target.BucketID == "" {
		missing = append(missing, "bucket")
	}
	if st.target.FlowID == "" {
		missing = append(missing, "flow")
	}
	if len(missing) > 0 {
		return pipeline.Fatal(ferrors.BadRequest(StepResolveCoordinates,
			"template id or %s required", strings.Join(missing, ", ")))
	}
	return pipeline.Ok()
}

func (d *Deployer) resolveRegistry(ctx context.Context, st *deployState) pipeline.Result {
	clients, err := d.client.ListRegistryClients(ctx)
	if err != nil {
		return pipeline.Warn("list registry clients: %v; treating %s as a native registry", err, st.target.RegistryID)
	}
	for i := range clients {
		rc := clients[i]
		if rc.ID == st.target.RegistryID || rc.Name == st.target.RegistryID {
			st.registry = &rc
			st.target.RegistryID = rc.ID
			return pipeline.Ok()
		}
	}
	return pipeline.Fatal(ferrors.NotFound(StepResolveRegistry, "registry client %q not found", st.target.RegistryID))
}

func (d *Deployer) resolveParent(ctx context.Context, st *deployState) pipeline.Result {
	switch {
	case st.req.ParentID != "":
		st.parentID = st.req.ParentID
	case st.req.ParentPath != "":
		res, err := d.resolver.ResolveOrCreate(ctx, st.req.ParentPath)
		if err != nil {
			return pipeline.Fatal(err)
		}
		st.parentID = res.GroupID
		st.result.CreatedGroups = res.Created
		d.metrics.RecordGroupsCreated(ctx, len(res.Created))
	default:
		root, err := d.client.RootID(ctx)
		if err != nil {
			return pipeline.Fatal(ferrors.Remote(StepResolveParent, fmt.Errorf("get root: %w", err)))
		}
		st.parentID = root
	}
	st.result.ParentGroupID = st.parentID
	return pipeline.Ok()
}

// resolveIdentifiers turns bucket and flow names into ids. VCS mirrors take
// the ids as given.
func (d *Deployer) resolveIdentifiers(ctx context.Context, st *deployState) pipeline.Result {
	if st.registry != nil && st.registry.IsVCSMirror() {
		return pipeline.Skip(fmt.Sprintf("registry %s is a VCS mirror", st.registry.Name))
	}

	bucket, err := d.client.GetBucket(ctx, st.target.RegistryID, st.target.BucketID)
	if err != nil {
		return pipeline.Warn("resolve bucket %q: %v; using ids as given", st.target.BucketID, err)
	}
	st.target.BucketID = bucket.ID

	flow, err := d.client.GetFlow(ctx, st.target.RegistryID, bucket.ID, st.target.FlowID)
	if err != nil {
		return pipeline.Warn("resolve flow %q: %v; using ids as given", st.target.FlowID, err)
	}
	st.target.FlowID = flow.ID
	st.flowName = flow.Name
	return pipeline.Ok()
}

func (d *Deployer) resolveVersion(ctx context.Context, st *deployState) pipeline.Result {
	if st.target.Version != "" {
		return pipeline.Skip("version " + st.target.Version + " requested")
	}
	versions, err := d.client.ListFlowVersions(ctx, st.target.RegistryID, st.target.BucketID, st.target.FlowID)
	if err != nil {
		return pipeline.Warn("list versions: %v; deploying latest", err)
	}
	v := PickVersion(versions)
	if v == "" {
		return pipeline.Warn("no versions listed for flow %s; deploying latest", st.target.FlowID)
	}
	st.target.Version = v
	return pipeline.Ok()
}

func (d *Deployer) checkCollision(ctx context.Context, st *deployState) pipeline.Result {
	children, err := d.client.ListChildGroups(ctx, st.parentID)
	if err != nil {
		return pipeline.Fatal(ferrors.Wrap(err, StepCheckCollision, "list children of %s", st.parentID))
	}
	st.children = len(children)

	name := st.req.DisplayName
	if name == "" {
		name = st.flowName
	}
	if name == "" {
		return pipeline.Warn("name of the deployed group is unknown; collision check skipped")
	}
	for _, c := range children {
		if c.Name == name {
			return pipeline.Fatal(&ferrors.ConflictError{
				Name:                name,
				ParentID:            st.parentID,
				ExistingID:          c.ID,
				UnderVersionControl: c.UnderVersionControl(),
			})
		}
	}
	return pipeline.Ok()
}

func (d *Deployer) materialize(ctx context.Context, st *deployState) pipeline.Result {
	pos := canvas.GridPosition(st.children)
	if st.req.Position != nil {
		pos = *st.req.Position
	}
	g, err := d.client.DeployFlowVersion(ctx, canvas.DeployRequest{
		ParentID:   st.parentID,
		Position:   pos,
		RegistryID: st.target.RegistryID,
		BucketID:   st.target.BucketID,
		FlowID:     st.target.FlowID,
		Version:    st.target.Version,
	})
	if err != nil {
		return pipeline.Fatal(ferrors.Wrap(err, StepMaterialize, "deploy %s into %s", st.target, st.parentID))
	}
	st.group = g
	st.result.GroupID = g.ID
	st.result.GroupName = g.Name
	st.result.Version = st.target.Version
	if st.result.Version == "" && g.VersionControl != nil {
		st.result.Version = g.VersionControl.Version
	}
	d.spans.AddSpanEvent(ctx, "group.deployed",
		attribute.String("group.id", g.ID),
		attribute.String("flow.version", st.result.Version))
	return pipeline.Ok()
}

func (d *Deployer) rename(ctx context.Context, st *deployState) pipeline.Result {
	name := st.req.DisplayName
	if name == "" {
		return pipeline.Skip("no display name")
	}
	if name == st.group.Name {
		return pipeline.Skip("name unchanged")
	}
	g, err := d.client.RenameGroup(ctx, st.group, name)
	if err != nil {
		return pipeline.Warning(fmt.Errorf("rename %s to %q: %w", st.group.ID, name, err))
	}
	st.group = g
	st.result.GroupName = g.Name
	return pipeline.Ok()
}

func (d *Deployer) assignParameterContext(ctx context.Context, st *deployState) pipeline.Result {
	ref := st.req.ParameterContext
	if ref == "" {
		return pipeline.Skip("no parameter context")
	}
	contextID := ref
	contexts, err := d.client.ListParameterContexts(ctx)
	if err != nil {
		st.logger.Warn("parameter context listing failed, using reference as id",
			slog.String("reference", ref), slog.String("error", err.Error()))
	} else {
		found := false
		for _, pc := range contexts {
			if pc.ID == ref || pc.Name == ref {
				contextID, found = pc.ID, true
				break
			}
		}
		if !found {
			return pipeline.Warning(ferrors.NotFound(StepParameterContext, "parameter context %q not found", ref))
		}
	}
	g, err := d.client.AssignParameterContext(ctx, st.group, contextID)
	if err != nil {
		return pipeline.Warning(fmt.Errorf("assign parameter context %s: %w", contextID, err))
	}
	st.group = g
	return pipeline.Ok()
}

func (d *Deployer) autoConnect(ctx context.Context, st *deployState) pipeline.Result {
	if !st.req.PostActions.AutoConnect {
		return pipeline.Skip("not requested")
	}
	report, err := d.connector.AutoConnect(ctx, st.group.ID, st.parentID)
	st.result.Wiring = report
	if err != nil {
		return pipeline.Warning(err)
	}
	if w := report.Warnings(); len(w) > 0 {
		return pipeline.Warn("%s", strings.Join(w, "; "))
	}
	return pipeline.Ok()
}

func (d *Deployer) detach(ctx context.Context, st *deployState) pipeline.Result {
	if !st.req.PostActions.DetachVersionControl {
		return pipeline.Skip("not requested")
	}
	// Earlier steps and the engine may have bumped the revision.
	g, err := d.client.GetGroup(ctx, st.group.ID)
	if err != nil {
		return pipeline.Warning(fmt.Errorf("refresh group %s: %w", st.group.ID, err))
	}
	if !g.UnderVersionControl() {
		return pipeline.Skip("group is not under version control")
	}
	if err := d.client.StopVersionControl(ctx, g); err != nil {
		return pipeline.Warning(fmt.Errorf("stop version control: %w", err))
	}
	return pipeline.Ok()
}

func (d *Deployer) setState(ctx context.Context, st *deployState) pipeline.Result {
	state := st.req.PostActions.State()
	if state == "" {
		return pipeline.Skip("not requested")
	}
	report, err := d.states.SetState(ctx, st.group.ID, state)
	if err != nil {
		return pipeline.Warning(err)
	}
	st.result.State = report
	if w := report.Warnings(); len(w) > 0 {
		return pipeline.Warn("%s", strings.Join(w, "; "))
	}
	return pipeline.Ok()
}
