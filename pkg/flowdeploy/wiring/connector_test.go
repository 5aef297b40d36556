package wiring_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas/canvastest"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/routing"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/wiring"
)

type fixture struct {
	engine   *canvastest.Engine
	parentID string
	childID  string
	childIn  string
	childOut string
}

func newFixture(t *testing.T, childName string) *fixture {
	t.Helper()
	e := canvastest.New("NiFi Flow")
	parent := e.AddGroup(e.Root(), "SiteB")
	child := e.AddGroup(parent, childName)
	return &fixture{
		engine:   e,
		parentID: parent,
		childID:  child,
		childIn:  e.AddInputPort(child, "in", canvas.StateStopped),
		childOut: e.AddOutputPort(child, "out", canvas.StateStopped),
	}
}

func ruleProps(rules map[string]string) map[string]string {
	props := map[string]string{routing.DefaultStrategyProperty: routing.DefaultRuleStrategy}
	for k, v := range rules {
		props[k] = v
	}
	return props
}

func TestAutoConnect_Output(t *testing.T) {
	f := newFixture(t, "X")
	parentOut := f.engine.AddOutputPort(f.parentID, "to-upstream", canvas.StateRunning)

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)

	assert.Equal(t, wiring.SideConnected, report.Output.Status)
	require.NotNil(t, report.Output.Connection)
	conn := report.Output.Connection
	assert.Equal(t, "out to to-upstream", conn.Name)
	assert.Equal(t, f.childOut, conn.Source.ID)
	assert.Equal(t, parentOut, conn.Destination.ID)
	assert.Equal(t, f.parentID, conn.GroupID)
}

func TestAutoConnect_OutputNoOp(t *testing.T) {
	t.Run("parent has no output port", func(t *testing.T) {
		f := newFixture(t, "X")
		report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
		require.NoError(t, err)
		assert.Equal(t, wiring.SideSkipped, report.Output.Status)
		assert.Equal(t, "parent has no output ports", report.Output.Reason)
	})

	t.Run("child has no output port", func(t *testing.T) {
		e := canvastest.New("root")
		parent := e.AddGroup(e.Root(), "P")
		child := e.AddGroup(parent, "C")
		e.AddOutputPort(parent, "out", canvas.StateStopped)

		report, err := wiring.NewConnector(e).AutoConnect(context.Background(), child, parent)
		require.NoError(t, err)
		assert.Equal(t, wiring.SideSkipped, report.Output.Status)
		assert.Equal(t, "child has no output ports", report.Output.Reason)
		assert.Empty(t, e.Connections())
	})
}

func TestAutoConnect_ExistingRuleNotDuplicated(t *testing.T) {
	f := newFixture(t, "X")
	existing := "${hierarchy.target:equalsIgnoreCase('X')}"
	router := f.engine.AddRouter(f.parentID, "Route by site", canvas.StateRunning,
		ruleProps(map[string]string{"X": existing}))

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)

	assert.Equal(t, wiring.ModeRouter, report.Mode)
	require.NotNil(t, report.Router)
	assert.False(t, report.Router.RuleAdded)
	assert.False(t, report.Router.Stopped)
	assert.Equal(t, 0, f.engine.Calls(canvastest.OpUpdateProcessorProperty))

	p, _ := f.engine.Processor(router)
	assert.Equal(t, canvas.StateRunning, p.State)
	assert.Equal(t, existing, p.Properties["X"])
	assert.Len(t, p.Properties, 2)

	require.Equal(t, wiring.SideConnected, report.Input.Status)
	conn := report.Input.Connection
	assert.Equal(t, "X", conn.Name)
	assert.Equal(t, []string{"X"}, conn.Relationships)
	assert.Equal(t, router, conn.Source.ID)
	assert.Equal(t, f.childIn, conn.Destination.ID)
}

// addSibling places a wired sibling behind router so the router can run.
func addSibling(t *testing.T, f *fixture, router, name string) {
	t.Helper()
	sibling := f.engine.AddGroup(f.parentID, name)
	in := f.engine.AddInputPort(sibling, "in", canvas.StateRunning)
	_, err := f.engine.CreateConnection(context.Background(), canvas.ConnectionRequest{
		GroupID:       f.parentID,
		Name:          name,
		Source:        canvas.Endpoint{ID: router, GroupID: f.parentID, Kind: canvas.KindProcessor},
		Destination:   canvas.Endpoint{ID: in, GroupID: sibling, Kind: canvas.KindInputPort},
		Relationships: []string{name},
	})
	require.NoError(t, err)
}

func TestAutoConnect_RouterRuleAdded(t *testing.T) {
	f := newFixture(t, "SiteC")
	router := f.engine.AddRouter(f.parentID, "Route by site", canvas.StateRunning,
		ruleProps(map[string]string{"SiteA": "${hierarchy.target:equalsIgnoreCase('SiteA')}"}))
	addSibling(t, f, router, "SiteA")

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)

	require.NotNil(t, report.Router)
	assert.True(t, report.Router.RuleAdded)
	assert.False(t, report.Router.StrategyForced)
	assert.True(t, report.Router.Stopped)
	assert.True(t, report.Router.Restarted)
	assert.Empty(t, report.Router.RestartError)
	assert.Empty(t, report.Warnings())
	assert.Len(t, f.engine.Connections(), 2)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, canvas.StateRunning, p.State)
	assert.Equal(t, "${hierarchy.target:equalsIgnoreCase('SiteC')}", p.Properties["SiteC"])
	assert.Equal(t, "${hierarchy.target:equalsIgnoreCase('SiteA')}", p.Properties["SiteA"])
	assert.True(t, p.HasRelationship("SiteC"))

	assert.Equal(t, wiring.SideConnected, report.Input.Status)
	assert.Equal(t, []string{"SiteC"}, report.Input.Connection.Relationships)
}

func TestAutoConnect_StrategyForced(t *testing.T) {
	f := newFixture(t, "X")
	router := f.engine.AddRouter(f.parentID, "router", canvas.StateStopped, map[string]string{
		routing.DefaultStrategyProperty: "Route to 'matched' if all match",
		"X":                             "${hierarchy.target:equalsIgnoreCase('X')}",
	})

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)

	assert.False(t, report.Router.RuleAdded)
	assert.True(t, report.Router.StrategyForced)
	assert.False(t, report.Router.Stopped)
	assert.False(t, report.Router.Restarted)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, routing.DefaultRuleStrategy, p.Properties[routing.DefaultStrategyProperty])
	assert.Equal(t, canvas.StateStopped, p.State)
}

func TestAutoConnect_QuotedName(t *testing.T) {
	f := newFixture(t, "O'Hare")
	router := f.engine.AddRouter(f.parentID, "router", canvas.StateStopped, ruleProps(nil))

	_, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, `${hierarchy.target:equalsIgnoreCase('O\'Hare')}`, p.Properties["O'Hare"])
}

func TestAutoConnect_CustomPredicate(t *testing.T) {
	f := newFixture(t, "B7")
	router := f.engine.AddRouter(f.parentID, "router", canvas.StateStopped, ruleProps(nil))

	c := wiring.NewConnector(f.engine,
		wiring.WithPredicates(routing.NewPredicateBuilder("${$attribute:equals('$name')}", "site.code")))
	_, err := c.AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, "${site.code:equals('B7')}", p.Properties["B7"])
}

func TestAutoConnect_DirectFallback(t *testing.T) {
	f := newFixture(t, "X")
	parentIn := f.engine.AddInputPort(f.parentID, "from-upstream", canvas.StateRunning)
	// A router nested below the parent must not be used.
	nested := f.engine.AddGroup(f.parentID, "nested")
	f.engine.AddRouter(nested, "deep router", canvas.StateStopped, ruleProps(nil))
	// Other processors in the parent are ignored.
	f.engine.AddProcessor(f.parentID, canvastest.ProcessorSpec{Name: "log", Type: "org.apache.nifi.processors.standard.LogAttribute"})

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)

	assert.Equal(t, wiring.ModeDirect, report.Mode)
	assert.Nil(t, report.Router)
	require.Equal(t, wiring.SideConnected, report.Input.Status)
	assert.Equal(t, parentIn, report.Input.Connection.Source.ID)
	assert.Equal(t, f.childIn, report.Input.Connection.Destination.ID)
	assert.Equal(t, "from-upstream to in", report.Input.Connection.Name)
}

func TestAutoConnect_NothingToWire(t *testing.T) {
	f := newFixture(t, "X")

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)
	assert.Equal(t, wiring.ModeNone, report.Mode)
	assert.Equal(t, wiring.SideSkipped, report.Input.Status)
	assert.False(t, report.Connected())
	assert.Empty(t, f.engine.Connections())
}

func TestAutoConnect_SidesIndependent(t *testing.T) {
	f := newFixture(t, "X")
	f.engine.AddInputPort(f.parentID, "from-upstream", canvas.StateRunning)
	f.engine.FailOn(canvastest.OpListOutputPorts, "", errors.New("gateway timeout"))

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")

	assert.Equal(t, wiring.SideFailed, report.Output.Status)
	assert.Equal(t, wiring.SideConnected, report.Input.Status)
	assert.Len(t, report.Warnings(), 1)
}

func TestAutoConnect_RouterUpdateFails(t *testing.T) {
	f := newFixture(t, "X")
	router := f.engine.AddRouter(f.parentID, "router", canvas.StateRunning, ruleProps(nil))
	f.engine.FailOn(canvastest.OpUpdateProcessorProperty, router, errors.New("invalid property"))

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.Error(t, err)

	assert.Equal(t, wiring.SideFailed, report.Input.Status)
	assert.Contains(t, report.Input.Reason, "invalid property")
	assert.True(t, report.Router.Restarted)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, canvas.StateRunning, p.State)
	assert.Empty(t, f.engine.Connections())
}

func TestAutoConnect_RouterConnectionFails(t *testing.T) {
	f := newFixture(t, "X")
	router := f.engine.AddRouter(f.parentID, "router", canvas.StateRunning, ruleProps(nil))
	f.engine.FailOn(canvastest.OpCreateConnection, f.parentID, errors.New("connection refused"))

	report, err := wiring.NewConnector(f.engine).AutoConnect(context.Background(), f.childID, f.parentID)
	require.Error(t, err)

	assert.Equal(t, wiring.SideFailed, report.Input.Status)
	assert.True(t, report.Router.RuleAdded)
	assert.False(t, report.Router.Restarted)
	assert.Contains(t, report.Router.RestartError, "relationship X is not connected")
	assert.Contains(t, report.Warnings(), "router "+router+" left stopped: "+report.Router.RestartError)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, canvas.StateStopped, p.State)
}

// refetchFailer fails every GetProcessor call after the first.
type refetchFailer struct {
	*canvastest.Engine
	gets int
}

func (r *refetchFailer) GetProcessor(ctx context.Context, id string) (*canvas.Processor, error) {
	r.gets++
	if r.gets > 1 {
		return nil, errors.New("read timeout")
	}
	return r.Engine.GetProcessor(ctx, id)
}

func TestAutoConnect_RouterRefetchFails(t *testing.T) {
	f := newFixture(t, "X")
	router := f.engine.AddRouter(f.parentID, "router", canvas.StateRunning, ruleProps(nil))
	client := &refetchFailer{Engine: f.engine}

	report, err := wiring.NewConnector(client).AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)
	assert.Equal(t, 2, client.gets)

	assert.True(t, report.Router.Stopped)
	assert.True(t, report.Router.Restarted)
	assert.Empty(t, report.Router.RestartError)
	require.Equal(t, wiring.SideConnected, report.Input.Status)
	assert.Equal(t, []string{"X"}, report.Input.Connection.Relationships)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, canvas.StateRunning, p.State)
	assert.True(t, p.HasRelationship("X"))
}

func TestAutoConnect_RestartDisabled(t *testing.T) {
	f := newFixture(t, "X")
	router := f.engine.AddRouter(f.parentID, "router", canvas.StateRunning, ruleProps(nil))

	c := wiring.NewConnector(f.engine, wiring.WithRestartRouter(false))
	report, err := c.AutoConnect(context.Background(), f.childID, f.parentID)
	require.NoError(t, err)
	assert.True(t, report.Router.Stopped)
	assert.False(t, report.Router.Restarted)

	p, _ := f.engine.Processor(router)
	assert.Equal(t, canvas.StateStopped, p.State)
}

func TestAutoConnect_ChildWithoutInputPorts(t *testing.T) {
	e := canvastest.New("root")
	parent := e.AddGroup(e.Root(), "P")
	child := e.AddGroup(parent, "C")
	router := e.AddRouter(parent, "router", canvas.StateRunning, ruleProps(nil))

	report, err := wiring.NewConnector(e).AutoConnect(context.Background(), child, parent)
	require.NoError(t, err)
	assert.Equal(t, wiring.SideSkipped, report.Input.Status)

	p, _ := e.Processor(router)
	assert.NotContains(t, p.Properties, "C")
}

func TestIsRouter(t *testing.T) {
	c := wiring.NewConnector(canvastest.New("root"))
	assert.True(t, c.IsRouter("org.apache.nifi.processors.standard.RouteOnAttribute"))
	assert.True(t, c.IsRouter("RouteOnAttribute"))
	assert.True(t, c.IsRouter("com.example.custom.RouteOnAttribute"))
	assert.False(t, c.IsRouter("org.apache.nifi.processors.standard.RouteOnContent"))
	assert.False(t, c.IsRouter("MyRouteOnAttribute"))
}
