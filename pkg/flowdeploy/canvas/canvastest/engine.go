// Package canvastest provides an in-memory canvas.Client for tests.
//
// Engine mimics the remote engine closely enough to exercise the
// orchestrator: revisions are checked on every mutation, property edits on a
// running processor are rejected, router relationships follow the rule map,
// a router with an unconnected rule cannot be started, and RUNNING to
// DISABLED transitions must pass through STOPPED. Failures can be injected
// per operation and per object id.
package canvastest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
)

// Operation names accepted by FailOn and Calls.
const (
	OpRootID                  = "RootID"
	OpGetGroup                = "GetGroup"
	OpListGroups              = "ListGroups"
	OpListChildGroups         = "ListChildGroups"
	OpCreateGroup             = "CreateGroup"
	OpRenameGroup             = "RenameGroup"
	OpAssignParameterContext  = "AssignParameterContext"
	OpListParameterContexts   = "ListParameterContexts"
	OpStopVersionControl      = "StopVersionControl"
	OpListInputPorts          = "ListInputPorts"
	OpListOutputPorts         = "ListOutputPorts"
	OpListProcessors          = "ListProcessors"
	OpGetProcessor            = "GetProcessor"
	OpUpdateProcessorProperty = "UpdateProcessorProperties"
	OpCreateConnection        = "CreateConnection"
	OpSetRunState             = "SetRunState"
	OpListRegistryClients     = "ListRegistryClients"
	OpGetBucket               = "GetBucket"
	OpGetFlow                 = "GetFlow"
	OpListFlowVersions        = "ListFlowVersions"
	OpDeployFlowVersion       = "DeployFlowVersion"
)

// RouterType is the processor type the engine treats as a rule router.
const RouterType = "org.apache.nifi.processors.standard.RouteOnAttribute"

const routingStrategy = "Routing Strategy"

// ProcessorSpec describes a processor materialised by a flow deployment.
type ProcessorSpec struct {
	Name       string
	Type       string
	State      canvas.RunState
	Properties map[string]string
}

// FlowContents is what a deployed flow version creates inside its group.
type FlowContents struct {
	InputPorts  []string
	OutputPorts []string
	Processors  []ProcessorSpec
}

type flowRecord struct {
	flow     canvas.Flow
	registry string
	versions []canvas.VersionMetadata
	contents FlowContents
}

// Engine is an in-memory canvas.Client. The zero value is not usable; call New.
type Engine struct {
	mu sync.Mutex

	rootID     string
	nextID     int
	groups     map[string]*canvas.Group
	groupOrder []string
	paramCtx   map[string]string

	ports      map[string]*canvas.Port
	portOrder  []string
	procs      map[string]*canvas.Processor
	procOrder  []string
	conns      []canvas.Connection
	registries []canvas.RegistryClient
	buckets    map[string][]canvas.Bucket
	flows      []*flowRecord
	contexts   []canvas.ParameterContext

	failures map[string]error
	calls    map[string]int
}

var _ canvas.Client = (*Engine)(nil)

// New creates an engine holding only a root group named rootName.
func New(rootName string) *Engine {
	e := &Engine{
		groups:   make(map[string]*canvas.Group),
		paramCtx: make(map[string]string),
		ports:    make(map[string]*canvas.Port),
		procs:    make(map[string]*canvas.Processor),
		buckets:  make(map[string][]canvas.Bucket),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	e.rootID = e.addGroupLocked("", rootName, nil)
	return e
}

func (e *Engine) newID(prefix string) string {
	e.nextID++
	return fmt.Sprintf("%s-%d", prefix, e.nextID)
}

func (e *Engine) addGroupLocked(parentID, name string, vc *canvas.VersionControl) string {
	id := e.newID("pg")
	e.groups[id] = &canvas.Group{
		ID:             id,
		Name:           name,
		ParentID:       parentID,
		Revision:       canvas.Revision{Version: 1},
		VersionControl: vc,
	}
	e.groupOrder = append(e.groupOrder, id)
	return id
}

// --- seeding ---

// Root returns the root group id.
func (e *Engine) Root() string {
	return e.rootID
}

// AddGroup creates a group under parentID and returns its id.
func (e *Engine) AddGroup(parentID, name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addGroupLocked(parentID, name, nil)
}

// AddVersionedGroup creates a group under version control.
func (e *Engine) AddVersionedGroup(parentID, name string, vc canvas.VersionControl) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addGroupLocked(parentID, name, &vc)
}

func (e *Engine) addPortLocked(groupID, name string, kind canvas.ComponentKind, state canvas.RunState) string {
	id := e.newID(strings.ToLower(string(kind)))
	e.ports[id] = &canvas.Port{
		ID:       id,
		Name:     name,
		State:    state,
		GroupID:  groupID,
		Kind:     kind,
		Revision: canvas.Revision{Version: 1},
	}
	e.portOrder = append(e.portOrder, id)
	return id
}

// AddInputPort creates an input port and returns its id.
func (e *Engine) AddInputPort(groupID, name string, state canvas.RunState) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addPortLocked(groupID, name, canvas.KindInputPort, state)
}

// AddOutputPort creates an output port and returns its id.
func (e *Engine) AddOutputPort(groupID, name string, state canvas.RunState) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addPortLocked(groupID, name, canvas.KindOutputPort, state)
}

func (e *Engine) addProcessorLocked(groupID string, spec ProcessorSpec) string {
	id := e.newID("proc")
	state := spec.State
	if state == "" {
		state = canvas.StateStopped
	}
	p := &canvas.Processor{
		ID:         id,
		Name:       spec.Name,
		Type:       spec.Type,
		State:      state,
		GroupID:    groupID,
		Properties: copyProps(spec.Properties),
		Revision:   canvas.Revision{Version: 1},
	}
	p.Relationships = relationshipsFor(p)
	e.procs[id] = p
	e.procOrder = append(e.procOrder, id)
	return id
}

// AddProcessor creates a processor and returns its id.
func (e *Engine) AddProcessor(groupID string, spec ProcessorSpec) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addProcessorLocked(groupID, spec)
}

// AddRouter creates a rule router with the given properties.
func (e *Engine) AddRouter(groupID, name string, state canvas.RunState, props map[string]string) string {
	return e.AddProcessor(groupID, ProcessorSpec{Name: name, Type: RouterType, State: state, Properties: props})
}

// AddRegistry registers a registry client.
func (e *Engine) AddRegistry(id, name, typ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registries = append(e.registries, canvas.RegistryClient{ID: id, Name: name, Type: typ})
}

// AddBucket adds a bucket to a registry.
func (e *Engine) AddBucket(registryID, id, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buckets[registryID] = append(e.buckets[registryID], canvas.Bucket{ID: id, Name: name})
}

// AddFlow adds a flow with the given version tokens, oldest first.
func (e *Engine) AddFlow(registryID, bucketID, id, name string, versions []string, contents FlowContents) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := &flowRecord{
		flow:     canvas.Flow{ID: id, Name: name, BucketID: bucketID},
		registry: registryID,
		contents: contents,
	}
	for _, v := range versions {
		rec.versions = append(rec.versions, canvas.VersionMetadata{Version: v})
	}
	e.flows = append(e.flows, rec)
}

// AddParameterContext registers a parameter context.
func (e *Engine) AddParameterContext(id, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contexts = append(e.contexts, canvas.ParameterContext{ID: id, Name: name})
}

// --- failure injection and inspection ---

// FailOn makes op fail with err. A non-empty id limits the failure to calls
// addressing that object (group, processor, port or parent id).
func (e *Engine) FailOn(op, id string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op+"|"+id] = err
}

// ClearFailures removes all injected failures.
func (e *Engine) ClearFailures() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = make(map[string]error)
}

// Calls returns how often op was invoked.
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// enter records a call and returns an injected failure, if any.
// Callers must hold e.mu.
func (e *Engine) enter(op, id string) error {
	e.calls[op]++
	if err, ok := e.failures[op+"|"+id]; ok {
		return err
	}
	if err, ok := e.failures[op+"|"]; ok {
		return err
	}
	return nil
}

// Group returns a copy of a group.
func (e *Engine) Group(id string) (canvas.Group, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[id]
	if !ok {
		return canvas.Group{}, false
	}
	return copyGroup(g), true
}

// Children returns the direct children of parentID in creation order.
func (e *Engine) Children(parentID string) []canvas.Group {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.childrenLocked(parentID)
}

// GroupCount returns the number of groups including the root.
func (e *Engine) GroupCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.groups)
}

// ParameterContextOf returns the parameter context bound to a group.
func (e *Engine) ParameterContextOf(groupID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paramCtx[groupID]
}

// Connections returns every connection created so far.
func (e *Engine) Connections() []canvas.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]canvas.Connection, len(e.conns))
	copy(out, e.conns)
	return out
}

// Processor returns a copy of a processor.
func (e *Engine) Processor(id string) (canvas.Processor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.procs[id]
	if !ok {
		return canvas.Processor{}, false
	}
	return copyProcessor(p), true
}

// Port returns a copy of a port.
func (e *Engine) Port(id string) (canvas.Port, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.ports[id]
	if !ok {
		return canvas.Port{}, false
	}
	return *p, true
}

// PortsOf returns the ports of kind in groupID.
func (e *Engine) PortsOf(groupID string, kind canvas.ComponentKind) []canvas.Port {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portsLocked([]string{groupID}, kind)
}

// ProcessorsOf returns the processors directly in groupID.
func (e *Engine) ProcessorsOf(groupID string) []canvas.Processor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processorsLocked([]string{groupID})
}

// --- canvas.Client ---

func notFound(what, id string) error {
	return &ferrors.HTTPError{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("unable to locate %s with id '%s'", what, id),
	}
}

func staleRevision(id string, got, want int64) error {
	return &ferrors.HTTPError{
		StatusCode: http.StatusConflict,
		Message:    fmt.Sprintf("%s is not the most up-to-date revision (%d, current %d)", id, got, want),
	}
}

func invalidState(msg string) error {
	return &ferrors.HTTPError{StatusCode: http.StatusConflict, Message: msg}
}

func (e *Engine) RootID(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpRootID, ""); err != nil {
		return "", err
	}
	return e.rootID, nil
}

func (e *Engine) GetGroup(ctx context.Context, id string) (*canvas.Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpGetGroup, id); err != nil {
		return nil, err
	}
	g, ok := e.groups[id]
	if !ok {
		return nil, notFound("process group", id)
	}
	c := copyGroup(g)
	return &c, nil
}

func (e *Engine) childrenLocked(parentID string) []canvas.Group {
	var out []canvas.Group
	for _, id := range e.groupOrder {
		g := e.groups[id]
		if g.ParentID == parentID && id != e.rootID {
			out = append(out, copyGroup(g))
		}
	}
	return out
}

// subtreeLocked returns rootID and its descendants in breadth-first order.
func (e *Engine) subtreeLocked(rootID string) []string {
	ids := []string{rootID}
	visited := map[string]bool{rootID: true}
	for i := 0; i < len(ids); i++ {
		for _, child := range e.childrenLocked(ids[i]) {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			ids = append(ids, child.ID)
		}
	}
	return ids
}

func (e *Engine) ListGroups(ctx context.Context, rootID string) ([]canvas.Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpListGroups, rootID); err != nil {
		return nil, err
	}
	if _, ok := e.groups[rootID]; !ok {
		return nil, notFound("process group", rootID)
	}
	var out []canvas.Group
	for _, id := range e.subtreeLocked(rootID) {
		out = append(out, copyGroup(e.groups[id]))
	}
	return out, nil
}

func (e *Engine) ListChildGroups(ctx context.Context, parentID string) ([]canvas.Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpListChildGroups, parentID); err != nil {
		return nil, err
	}
	if _, ok := e.groups[parentID]; !ok {
		return nil, notFound("process group", parentID)
	}
	return e.childrenLocked(parentID), nil
}

func (e *Engine) CreateGroup(
	ctx context.Context, parentID, name string, pos canvas.Position,
) (*canvas.Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpCreateGroup, parentID); err != nil {
		return nil, err
	}
	if err := e.failures[OpCreateGroup+"|name:"+name]; err != nil {
		return nil, err
	}
	if _, ok := e.groups[parentID]; !ok {
		return nil, notFound("process group", parentID)
	}
	id := e.addGroupLocked(parentID, name, nil)
	c := copyGroup(e.groups[id])
	return &c, nil
}

// FailCreateNamed makes CreateGroup fail for a specific group name.
func (e *Engine) FailCreateNamed(name string, err error) {
	e.FailOn(OpCreateGroup, "name:"+name, err)
}

func (e *Engine) checkGroupRevision(g *canvas.Group, rev canvas.Revision) error {
	if rev.Version != g.Revision.Version {
		return staleRevision(g.ID, rev.Version, g.Revision.Version)
	}
	return nil
}

func (e *Engine) RenameGroup(ctx context.Context, g *canvas.Group, name string) (*canvas.Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpRenameGroup, g.ID); err != nil {
		return nil, err
	}
	cur, ok := e.groups[g.ID]
	if !ok {
		return nil, notFound("process group", g.ID)
	}
	if err := e.checkGroupRevision(cur, g.Revision); err != nil {
		return nil, err
	}
	cur.Name = name
	cur.Revision.Version++
	c := copyGroup(cur)
	return &c, nil
}

func (e *Engine) AssignParameterContext(
	ctx context.Context, g *canvas.Group, contextID string,
) (*canvas.Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpAssignParameterContext, g.ID); err != nil {
		return nil, err
	}
	cur, ok := e.groups[g.ID]
	if !ok {
		return nil, notFound("process group", g.ID)
	}
	if err := e.checkGroupRevision(cur, g.Revision); err != nil {
		return nil, err
	}
	known := false
	for _, pc := range e.contexts {
		if pc.ID == contextID {
			known = true
			break
		}
	}
	if !known {
		return nil, notFound("parameter context", contextID)
	}
	e.paramCtx[g.ID] = contextID
	cur.Revision.Version++
	c := copyGroup(cur)
	return &c, nil
}

func (e *Engine) ListParameterContexts(ctx context.Context) ([]canvas.ParameterContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpListParameterContexts, ""); err != nil {
		return nil, err
	}
	out := make([]canvas.ParameterContext, len(e.contexts))
	copy(out, e.contexts)
	return out, nil
}

func (e *Engine) StopVersionControl(ctx context.Context, g *canvas.Group) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpStopVersionControl, g.ID); err != nil {
		return err
	}
	cur, ok := e.groups[g.ID]
	if !ok {
		return notFound("process group", g.ID)
	}
	if err := e.checkGroupRevision(cur, g.Revision); err != nil {
		return err
	}
	if cur.VersionControl == nil {
		return &ferrors.HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("process group %s is not under version control", g.ID),
		}
	}
	cur.VersionControl = nil
	cur.Revision.Version++
	return nil
}

func (e *Engine) portsLocked(groupIDs []string, kind canvas.ComponentKind) []canvas.Port {
	in := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		in[id] = true
	}
	var out []canvas.Port
	for _, id := range e.portOrder {
		p := e.ports[id]
		if p.Kind == kind && in[p.GroupID] {
			out = append(out, *p)
		}
	}
	return out
}

func (e *Engine) listPorts(op, groupID string, recursive bool, kind canvas.ComponentKind) ([]canvas.Port, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(op, groupID); err != nil {
		return nil, err
	}
	if _, ok := e.groups[groupID]; !ok {
		return nil, notFound("process group", groupID)
	}
	ids := []string{groupID}
	if recursive {
		ids = e.subtreeLocked(groupID)
	}
	return e.portsLocked(ids, kind), nil
}

func (e *Engine) ListInputPorts(ctx context.Context, groupID string, recursive bool) ([]canvas.Port, error) {
	return e.listPorts(OpListInputPorts, groupID, recursive, canvas.KindInputPort)
}

func (e *Engine) ListOutputPorts(ctx context.Context, groupID string, recursive bool) ([]canvas.Port, error) {
	return e.listPorts(OpListOutputPorts, groupID, recursive, canvas.KindOutputPort)
}

func (e *Engine) processorsLocked(groupIDs []string) []canvas.Processor {
	in := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		in[id] = true
	}
	var out []canvas.Processor
	for _, id := range e.procOrder {
		p := e.procs[id]
		if in[p.GroupID] {
			out = append(out, copyProcessor(p))
		}
	}
	return out
}

func (e *Engine) ListProcessors(ctx context.Context, groupID string, recursive bool) ([]canvas.Processor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpListProcessors, groupID); err != nil {
		return nil, err
	}
	if _, ok := e.groups[groupID]; !ok {
		return nil, notFound("process group", groupID)
	}
	ids := []string{groupID}
	if recursive {
		ids = e.subtreeLocked(groupID)
	}
	return e.processorsLocked(ids), nil
}

func (e *Engine) GetProcessor(ctx context.Context, id string) (*canvas.Processor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpGetProcessor, id); err != nil {
		return nil, err
	}
	p, ok := e.procs[id]
	if !ok {
		return nil, notFound("processor", id)
	}
	c := copyProcessor(p)
	return &c, nil
}

func (e *Engine) UpdateProcessorProperties(
	ctx context.Context, p *canvas.Processor, props map[string]string,
) (*canvas.Processor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpUpdateProcessorProperty, p.ID); err != nil {
		return nil, err
	}
	cur, ok := e.procs[p.ID]
	if !ok {
		return nil, notFound("processor", p.ID)
	}
	if p.Revision.Version != cur.Revision.Version {
		return nil, staleRevision(p.ID, p.Revision.Version, cur.Revision.Version)
	}
	if cur.State == canvas.StateRunning {
		return nil, invalidState(fmt.Sprintf("%s is not in a valid state: processor is running", p.ID))
	}
	for k, v := range props {
		cur.Properties[k] = v
	}
	cur.Relationships = relationshipsFor(cur)
	cur.Revision.Version++
	c := copyProcessor(cur)
	return &c, nil
}

func (e *Engine) CreateConnection(ctx context.Context, req canvas.ConnectionRequest) (*canvas.Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpCreateConnection, req.GroupID); err != nil {
		return nil, err
	}
	if _, ok := e.groups[req.GroupID]; !ok {
		return nil, notFound("process group", req.GroupID)
	}
	if err := e.checkEndpointLocked(req.Source); err != nil {
		return nil, err
	}
	if err := e.checkEndpointLocked(req.Destination); err != nil {
		return nil, err
	}
	if req.Source.Kind == canvas.KindProcessor {
		src := e.procs[req.Source.ID]
		if len(req.Relationships) == 0 {
			return nil, &ferrors.HTTPError{StatusCode: http.StatusBadRequest, Message: "no relationships selected"}
		}
		for _, rel := range req.Relationships {
			if !src.HasRelationship(rel) {
				return nil, &ferrors.HTTPError{
					StatusCode: http.StatusBadRequest,
					Message:    fmt.Sprintf("'%s' is not a known relationship of %s", rel, src.ID),
				}
			}
		}
	}
	conn := canvas.Connection{
		ID:            e.newID("conn"),
		Name:          req.Name,
		GroupID:       req.GroupID,
		Source:        req.Source,
		Destination:   req.Destination,
		Relationships: append([]string(nil), req.Relationships...),
	}
	e.conns = append(e.conns, conn)
	c := conn
	return &c, nil
}

func (e *Engine) checkEndpointLocked(ep canvas.Endpoint) error {
	switch ep.Kind {
	case canvas.KindProcessor:
		if _, ok := e.procs[ep.ID]; !ok {
			return notFound("processor", ep.ID)
		}
	case canvas.KindInputPort, canvas.KindOutputPort:
		if _, ok := e.ports[ep.ID]; !ok {
			return notFound("port", ep.ID)
		}
	default:
		return &ferrors.HTTPError{StatusCode: http.StatusBadRequest, Message: "unknown connectable type"}
	}
	return nil
}

func (e *Engine) SetRunState(ctx context.Context, c canvas.Component, state canvas.RunState) (canvas.Revision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpSetRunState, c.ID); err != nil {
		return canvas.Revision{}, err
	}
	var cur *canvas.RunState
	var rev *canvas.Revision
	switch c.Kind {
	case canvas.KindProcessor:
		p, ok := e.procs[c.ID]
		if !ok {
			return canvas.Revision{}, notFound("processor", c.ID)
		}
		cur, rev = &p.State, &p.Revision
	case canvas.KindInputPort, canvas.KindOutputPort:
		p, ok := e.ports[c.ID]
		if !ok {
			return canvas.Revision{}, notFound("port", c.ID)
		}
		cur, rev = &p.State, &p.Revision
	default:
		return canvas.Revision{}, &ferrors.HTTPError{StatusCode: http.StatusBadRequest, Message: "unknown component type"}
	}
	if c.Revision.Version != rev.Version {
		return canvas.Revision{}, staleRevision(c.ID, c.Revision.Version, rev.Version)
	}
	if (*cur == canvas.StateRunning && state == canvas.StateDisabled) ||
		(*cur == canvas.StateDisabled && state == canvas.StateRunning) {
		return canvas.Revision{}, invalidState(
			fmt.Sprintf("%s cannot transition from %s to %s", c.ID, *cur, state))
	}
	if c.Kind == canvas.KindProcessor && state == canvas.StateRunning && *cur != canvas.StateRunning {
		if rel := e.unconnectedLocked(e.procs[c.ID]); rel != "" {
			return canvas.Revision{}, invalidState(
				fmt.Sprintf("%s is not in a valid state: relationship %s is not connected", c.ID, rel))
		}
	}
	if *cur != state {
		*cur = state
		rev.Version++
	}
	return *rev, nil
}

// unconnectedLocked returns the first rule relationship of a router that no
// connection consumes. Other relationships count as auto-terminated.
func (e *Engine) unconnectedLocked(p *canvas.Processor) string {
	if !strings.HasSuffix(p.Type, "RouteOnAttribute") {
		return ""
	}
	for _, rel := range p.Relationships {
		if rel == "unmatched" || e.consumedLocked(p.ID, rel) {
			continue
		}
		return rel
	}
	return ""
}

func (e *Engine) consumedLocked(sourceID, rel string) bool {
	for _, conn := range e.conns {
		if conn.Source.ID != sourceID {
			continue
		}
		for _, r := range conn.Relationships {
			if r == rel {
				return true
			}
		}
	}
	return false
}

func (e *Engine) ListRegistryClients(ctx context.Context) ([]canvas.RegistryClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpListRegistryClients, ""); err != nil {
		return nil, err
	}
	out := make([]canvas.RegistryClient, len(e.registries))
	copy(out, e.registries)
	return out, nil
}

func (e *Engine) GetBucket(ctx context.Context, registryID, bucketRef string) (*canvas.Bucket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpGetBucket, bucketRef); err != nil {
		return nil, err
	}
	for _, b := range e.buckets[registryID] {
		if b.ID == bucketRef || b.Name == bucketRef {
			c := b
			return &c, nil
		}
	}
	return nil, notFound("bucket", bucketRef)
}

func (e *Engine) findFlowLocked(registryID, bucketID, flowRef string) *flowRecord {
	for _, rec := range e.flows {
		if rec.registry != registryID || rec.flow.BucketID != bucketID {
			continue
		}
		if rec.flow.ID == flowRef || rec.flow.Name == flowRef {
			return rec
		}
	}
	return nil
}

func (e *Engine) GetFlow(ctx context.Context, registryID, bucketID, flowRef string) (*canvas.Flow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpGetFlow, flowRef); err != nil {
		return nil, err
	}
	rec := e.findFlowLocked(registryID, bucketID, flowRef)
	if rec == nil {
		return nil, notFound("flow", flowRef)
	}
	f := rec.flow
	return &f, nil
}

func (e *Engine) ListFlowVersions(
	ctx context.Context, registryID, bucketID, flowID string,
) ([]canvas.VersionMetadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpListFlowVersions, flowID); err != nil {
		return nil, err
	}
	rec := e.findFlowLocked(registryID, bucketID, flowID)
	if rec == nil {
		return nil, notFound("flow", flowID)
	}
	out := make([]canvas.VersionMetadata, len(rec.versions))
	copy(out, rec.versions)
	return out, nil
}

func (e *Engine) DeployFlowVersion(ctx context.Context, req canvas.DeployRequest) (*canvas.Group, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter(OpDeployFlowVersion, req.ParentID); err != nil {
		return nil, err
	}
	if _, ok := e.groups[req.ParentID]; !ok {
		return nil, notFound("process group", req.ParentID)
	}
	rec := e.findFlowLocked(req.RegistryID, req.BucketID, req.FlowID)
	if rec == nil || rec.flow.ID != req.FlowID {
		return nil, &ferrors.HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("flow %s not found in bucket %s", req.FlowID, req.BucketID),
		}
	}
	version := req.Version
	if version == "" && len(rec.versions) > 0 {
		version = rec.versions[len(rec.versions)-1].Version
	}
	if version != "" && !rec.hasVersion(version) {
		return nil, &ferrors.HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("version %s of flow %s does not exist", version, req.FlowID),
		}
	}

	id := e.addGroupLocked(req.ParentID, rec.flow.Name, &canvas.VersionControl{
		RegistryID: req.RegistryID,
		BucketID:   req.BucketID,
		FlowID:     req.FlowID,
		FlowName:   rec.flow.Name,
		Version:    version,
		State:      "UP_TO_DATE",
	})
	for _, name := range rec.contents.InputPorts {
		e.addPortLocked(id, name, canvas.KindInputPort, canvas.StateStopped)
	}
	for _, name := range rec.contents.OutputPorts {
		e.addPortLocked(id, name, canvas.KindOutputPort, canvas.StateStopped)
	}
	for _, spec := range rec.contents.Processors {
		e.addProcessorLocked(id, spec)
	}
	c := copyGroup(e.groups[id])
	return &c, nil
}

func (r *flowRecord) hasVersion(v string) bool {
	for _, m := range r.versions {
		if m.Version == v {
			return true
		}
	}
	return false
}

// relationshipsFor derives a processor's relationships. Routers expose one
// relationship per rule plus "unmatched"; other processors expose "success".
func relationshipsFor(p *canvas.Processor) []string {
	if !strings.HasSuffix(p.Type, "RouteOnAttribute") {
		return []string{"success"}
	}
	var rels []string
	for k := range p.Properties {
		if k != routingStrategy {
			rels = append(rels, k)
		}
	}
	sort.Strings(rels)
	return append(rels, "unmatched")
}

func copyProps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyGroup(g *canvas.Group) canvas.Group {
	c := *g
	if g.VersionControl != nil {
		vc := *g.VersionControl
		c.VersionControl = &vc
	}
	return c
}

func copyProcessor(p *canvas.Processor) canvas.Processor {
	c := *p
	c.Properties = copyProps(p.Properties)
	c.Relationships = append([]string(nil), p.Relationships...)
	return c
}
