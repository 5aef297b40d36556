// Package canvas models the remote flow engine's control plane.
//
// The engine exposes a tree of process groups. Each group holds processors,
// input and output ports, connections and child groups. Every mutable object
// carries a Revision that must be echoed back unchanged on update.
//
// The package defines narrow interfaces for each consumer (GroupTree,
// PortLister, ...) plus the composite Client, and a REST implementation.
package canvas

import (
	"strings"
)

// Revision is the engine's optimistic concurrency token.
type Revision struct {
	Version  int64  `json:"version"`
	ClientID string `json:"clientId,omitempty"`
}

// Position places a component on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VersionControl describes the registry flow a group tracks.
type VersionControl struct {
	RegistryID string `json:"registryId"`
	BucketID   string `json:"bucketId"`
	FlowID     string `json:"flowId"`
	FlowName   string `json:"flowName,omitempty"`
	Version    string `json:"version,omitempty"`
	State      string `json:"state,omitempty"`
}

// Group is a process group node in the remote tree.
type Group struct {
	ID             string
	Name           string
	ParentID       string
	Comments       string
	Revision       Revision
	VersionControl *VersionControl
}

// UnderVersionControl reports whether the group tracks a registry flow.
func (g *Group) UnderVersionControl() bool {
	return g != nil && g.VersionControl != nil
}

// RunState is a component's scheduled state.
type RunState string

// Run states understood by the engine.
const (
	StateRunning  RunState = "RUNNING"
	StateStopped  RunState = "STOPPED"
	StateDisabled RunState = "DISABLED"
)

// Valid reports whether s is one of the known run states.
func (s RunState) Valid() bool {
	switch s {
	case StateRunning, StateStopped, StateDisabled:
		return true
	}
	return false
}

// ParseRunState parses a run state case-insensitively.
func ParseRunState(s string) (RunState, bool) {
	st := RunState(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// ComponentKind identifies the type of a connectable component.
type ComponentKind string

// Component kinds, matching the engine's connectable types.
const (
	KindProcessor  ComponentKind = "PROCESSOR"
	KindInputPort  ComponentKind = "INPUT_PORT"
	KindOutputPort ComponentKind = "OUTPUT_PORT"
)

// Port is an input or output port of a group.
type Port struct {
	ID       string
	Name     string
	State    RunState
	GroupID  string
	Kind     ComponentKind
	Revision Revision
}

// Component returns the port as a run-state target.
func (p Port) Component() Component {
	return Component{ID: p.ID, Name: p.Name, Kind: p.Kind, State: p.State, Revision: p.Revision}
}

// Endpoint returns the port as a connection endpoint.
func (p Port) Endpoint() Endpoint {
	return Endpoint{ID: p.ID, GroupID: p.GroupID, Kind: p.Kind}
}

// Processor is a processing component.
type Processor struct {
	ID            string
	Name          string
	Type          string
	State         RunState
	GroupID       string
	Properties    map[string]string
	Relationships []string
	Revision      Revision
}

// Component returns the processor as a run-state target.
func (p Processor) Component() Component {
	return Component{ID: p.ID, Name: p.Name, Kind: KindProcessor, State: p.State, Revision: p.Revision}
}

// Endpoint returns the processor as a connection endpoint.
func (p Processor) Endpoint() Endpoint {
	return Endpoint{ID: p.ID, GroupID: p.GroupID, Kind: KindProcessor}
}

// HasRelationship reports whether the processor declares rel.
func (p Processor) HasRelationship(rel string) bool {
	for _, r := range p.Relationships {
		if r == rel {
			return true
		}
	}
	return false
}

// Component is anything whose run state can be changed.
type Component struct {
	ID       string
	Name     string
	Kind     ComponentKind
	State    RunState
	Revision Revision
}

// Endpoint is one side of a connection.
type Endpoint struct {
	ID      string        `json:"id"`
	GroupID string        `json:"groupId"`
	Kind    ComponentKind `json:"type"`
}

// Connection is a directed edge between two components.
type Connection struct {
	ID            string
	Name          string
	GroupID       string
	Source        Endpoint
	Destination   Endpoint
	Relationships []string
}

// ConnectionRequest describes a connection to create inside GroupID.
type ConnectionRequest struct {
	GroupID       string
	Name          string
	Source        Endpoint
	Destination   Endpoint
	Relationships []string
}

// RegistryClient is a registry configured on the engine.
type RegistryClient struct {
	ID   string
	Name string
	Type string
}

// vcsMarkers identify registry client types backed by a read-only VCS mirror.
var vcsMarkers = []string{"git", "bitbucket", "azuredevops"}

// IsVCSMirror reports whether the registry is an external VCS mirror. Such
// registries accept bucket and flow ids as given and cannot resolve names.
func (r RegistryClient) IsVCSMirror() bool {
	t := strings.ToLower(r.Type)
	for _, m := range vcsMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// Bucket is a registry bucket.
type Bucket struct {
	ID   string
	Name string
}

// Flow is a versioned flow inside a bucket.
type Flow struct {
	ID       string
	Name     string
	BucketID string
}

// VersionMetadata describes one snapshot of a flow. Version is empty when
// the engine returned an entry without an extractable version.
type VersionMetadata struct {
	Version  string
	Author   string
	Comments string
	// Timestamp in milliseconds since epoch, zero when absent.
	Timestamp int64
}

// DeployRequest materialises a registry flow version as a new group.
// An empty Version lets the engine pick the latest.
type DeployRequest struct {
	ParentID   string
	Position   Position
	RegistryID string
	BucketID   string
	FlowID     string
	Version    string
}

// ParameterContext is a named set of parameters assignable to groups.
type ParameterContext struct {
	ID   string
	Name string
}

// gridColumns and grid spacing used by GridPosition.
const (
	gridColumns = 4
	gridWidth   = 420.0
	gridHeight  = 220.0
)

// GridPosition returns the canvas slot for the n-th child of a group so
// that successive deployments do not overlap.
func GridPosition(n int) Position {
	if n < 0 {
		n = 0
	}
	return Position{
		X: float64(n%gridColumns) * gridWidth,
		Y: float64(n/gridColumns) * gridHeight,
	}
}
