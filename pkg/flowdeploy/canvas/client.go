package canvas

import "context"

// GroupTree reads and extends the process group tree.
type GroupTree interface {
	// RootID returns the id of the canvas root group.
	RootID(ctx context.Context) (string, error)

	// GetGroup returns a single group with its current revision.
	GetGroup(ctx context.Context, id string) (*Group, error)

	// ListGroups returns rootID and every group beneath it.
	ListGroups(ctx context.Context, rootID string) ([]Group, error)

	// ListChildGroups returns the immediate children of parentID.
	ListChildGroups(ctx context.Context, parentID string) ([]Group, error)

	// CreateGroup creates an empty group under parentID.
	CreateGroup(ctx context.Context, parentID, name string, pos Position) (*Group, error)
}

// GroupEditor mutates existing groups.
type GroupEditor interface {
	// RenameGroup changes the display name of g.
	RenameGroup(ctx context.Context, g *Group, name string) (*Group, error)

	// AssignParameterContext binds a parameter context to g.
	AssignParameterContext(ctx context.Context, g *Group, contextID string) (*Group, error)

	// ListParameterContexts returns the parameter contexts known to the engine.
	ListParameterContexts(ctx context.Context) ([]ParameterContext, error)

	// StopVersionControl detaches g from its registry flow.
	StopVersionControl(ctx context.Context, g *Group) error
}

// PortLister lists the boundary ports of groups.
type PortLister interface {
	// ListInputPorts returns input ports of groupID, or of its whole
	// subtree when recursive is set.
	ListInputPorts(ctx context.Context, groupID string, recursive bool) ([]Port, error)

	// ListOutputPorts returns output ports of groupID, or of its whole
	// subtree when recursive is set.
	ListOutputPorts(ctx context.Context, groupID string, recursive bool) ([]Port, error)
}

// ProcessorEditor reads and updates processors.
type ProcessorEditor interface {
	// ListProcessors returns processors of groupID, including descendant
	// groups when recursive is set.
	ListProcessors(ctx context.Context, groupID string, recursive bool) ([]Processor, error)

	// GetProcessor returns a processor with its current revision.
	GetProcessor(ctx context.Context, id string) (*Processor, error)

	// UpdateProcessorProperties replaces the given properties on p.
	// Properties not named in props are left unchanged.
	UpdateProcessorProperties(ctx context.Context, p *Processor, props map[string]string) (*Processor, error)
}

// Connector creates connections.
type Connector interface {
	CreateConnection(ctx context.Context, req ConnectionRequest) (*Connection, error)
}

// StateSetter changes a component's run state.
type StateSetter interface {
	// SetRunState moves c to state using c.Revision and returns the
	// revision after the transition.
	SetRunState(ctx context.Context, c Component, state RunState) (Revision, error)
}

// Registry reads registry clients and their contents.
type Registry interface {
	ListRegistryClients(ctx context.Context) ([]RegistryClient, error)

	// GetBucket resolves a bucket by id or name.
	GetBucket(ctx context.Context, registryID, bucketRef string) (*Bucket, error)

	// GetFlow resolves a flow in a bucket by id or name.
	GetFlow(ctx context.Context, registryID, bucketID, flowRef string) (*Flow, error)

	// ListFlowVersions returns snapshot metadata in the order the engine reports it.
	ListFlowVersions(ctx context.Context, registryID, bucketID, flowID string) ([]VersionMetadata, error)
}

// Deployer materialises registry flows.
type Deployer interface {
	DeployFlowVersion(ctx context.Context, req DeployRequest) (*Group, error)
}

// Client is the full remote control plane.
type Client interface {
	GroupTree
	GroupEditor
	PortLister
	ProcessorEditor
	Connector
	StateSetter
	Registry
	Deployer
}
