// Package wiring connects a deployed group's boundary ports to its parent.
//
// Output wiring links the child's first output port to the parent's first
// output port. Input wiring prefers a conditional router placed directly in
// the parent: the router is given a rule named after the child (if missing)
// and connected to the child's first input port through the relationship of
// the same name. Without a router the parent's first input port feeds the
// child directly. The two sides are independent; a failure on one is
// recorded and the other still runs.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/routing"
)

const opAutoConnect = "auto-connect"

// Canvas is the subset of the remote client the connector uses.
type Canvas interface {
	GetGroup(ctx context.Context, id string) (*canvas.Group, error)
	canvas.PortLister
	canvas.ProcessorEditor
	canvas.Connector
	canvas.StateSetter
}

// Connector wires deployed groups into their parent.
type Connector struct {
	client        Canvas
	routerType    string
	dialect       routing.Dialect
	predicates    *routing.PredicateBuilder
	restartRouter bool
	logger        *slog.Logger
}

// Option configures a Connector.
type Option func(*Connector)

// WithRouterType sets the processor type recognised as a router. A
// processor matches when its type equals the value or ends with the value's
// last dotted segment.
// Default: routing.DefaultRouterType
func WithRouterType(typ string) Option {
	return func(c *Connector) {
		if typ != "" {
			c.routerType = typ
		}
	}
}

// WithDialect sets the router's strategy property and sentinel.
func WithDialect(d routing.Dialect) Option {
	return func(c *Connector) {
		if d.StrategyProperty != "" && d.RuleStrategy != "" {
			c.dialect = d
		}
	}
}

// WithPredicates sets the rule predicate builder.
func WithPredicates(b *routing.PredicateBuilder) Option {
	return func(c *Connector) {
		if b != nil {
			c.predicates = b
		}
	}
}

// WithRestartRouter controls whether a router stopped for an edit is
// started again afterwards.
// Default: true
func WithRestartRouter(enabled bool) Option {
	return func(c *Connector) {
		c.restartRouter = enabled
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConnector creates a Connector.
func NewConnector(client Canvas, opts ...Option) *Connector {
	c := &Connector{
		client:        client,
		routerType:    routing.DefaultRouterType,
		dialect:       routing.DefaultDialect,
		predicates:    routing.NewPredicateBuilder("", ""),
		restartRouter: true,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRouter reports whether typ is the configured router type.
func (c *Connector) IsRouter(typ string) bool {
	if typ == c.routerType {
		return true
	}
	short := c.routerType[strings.LastIndex(c.routerType, ".")+1:]
	return typ == short || strings.HasSuffix(typ, "."+short)
}

// AutoConnect wires childID into parentID. The report is always returned;
// the error joins the failures of both sides, if any.
func (c *Connector) AutoConnect(ctx context.Context, childID, parentID string) (*Report, error) {
	report := &Report{ChildID: childID, ParentID: parentID}

	outErr := c.wireOutput(ctx, childID, parentID, &report.Output)
	if outErr != nil {
		report.Output.fail(outErr)
		c.logger.Warn("output wiring failed",
			slog.String("group_id", childID),
			slog.String("parent_id", parentID),
			slog.String("error", outErr.Error()))
	}

	inErr := c.wireInput(ctx, childID, parentID, report)
	if inErr != nil {
		report.Input.fail(inErr)
		c.logger.Warn("input wiring failed",
			slog.String("group_id", childID),
			slog.String("parent_id", parentID),
			slog.String("error", inErr.Error()))
	}

	return report, errors.Join(outErr, inErr)
}

func (c *Connector) wireOutput(ctx context.Context, childID, parentID string, side *Side) error {
	childPorts, err := c.client.ListOutputPorts(ctx, childID, false)
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "list child output ports")
	}
	if len(childPorts) == 0 {
		side.skip("child has no output ports")
		return nil
	}
	parentPorts, err := c.client.ListOutputPorts(ctx, parentID, false)
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "list parent output ports")
	}
	if len(parentPorts) == 0 {
		side.skip("parent has no output ports")
		return nil
	}

	src, dst := childPorts[0], parentPorts[0]
	conn, err := c.client.CreateConnection(ctx, canvas.ConnectionRequest{
		GroupID:     parentID,
		Name:        fmt.Sprintf("%s to %s", src.Name, dst.Name),
		Source:      src.Endpoint(),
		Destination: dst.Endpoint(),
	})
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "connect output port %s", src.ID)
	}
	side.connect(conn)
	c.logger.Info("connected output port",
		slog.String("connection_id", conn.ID),
		slog.String("source", src.ID),
		slog.String("destination", dst.ID))
	return nil
}

func (c *Connector) wireInput(ctx context.Context, childID, parentID string, report *Report) error {
	child, err := c.client.GetGroup(ctx, childID)
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "get child group")
	}
	report.ChildName = child.Name

	childPorts, err := c.client.ListInputPorts(ctx, childID, false)
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "list child input ports")
	}
	if len(childPorts) == 0 {
		report.Input.skip("child has no input ports")
		return nil
	}
	target := childPorts[0]

	router, err := c.findRouter(ctx, parentID)
	if err != nil {
		return err
	}
	if router != nil {
		report.Mode = ModeRouter
		return c.wireThroughRouter(ctx, router, child.Name, parentID, target, report)
	}

	parentPorts, err := c.client.ListInputPorts(ctx, parentID, false)
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "list parent input ports")
	}
	if len(parentPorts) == 0 {
		report.Mode = ModeNone
		report.Input.skip("parent has no router and no input port")
		c.logger.Info("no input wiring possible",
			slog.String("group_id", childID),
			slog.String("parent_id", parentID))
		return nil
	}

	report.Mode = ModeDirect
	src := parentPorts[0]
	conn, err := c.client.CreateConnection(ctx, canvas.ConnectionRequest{
		GroupID:     parentID,
		Name:        fmt.Sprintf("%s to %s", src.Name, target.Name),
		Source:      src.Endpoint(),
		Destination: target.Endpoint(),
	})
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "connect input port %s", src.ID)
	}
	report.Input.connect(conn)
	c.logger.Info("connected input port directly, no routing rule applied",
		slog.String("connection_id", conn.ID),
		slog.String("group_id", childID),
		slog.String("parent_id", parentID))
	return nil
}

// findRouter returns the first router whose own group is parentID.
func (c *Connector) findRouter(ctx context.Context, parentID string) (*canvas.Processor, error) {
	procs, err := c.client.ListProcessors(ctx, parentID, false)
	if err != nil {
		return nil, ferrors.Wrap(err, opAutoConnect, "list parent processors")
	}
	for i := range procs {
		p := procs[i]
		if p.GroupID != parentID || !c.IsRouter(p.Type) {
			continue
		}
		return &p, nil
	}
	return nil, nil
}

func (c *Connector) wireThroughRouter(
	ctx context.Context,
	router *canvas.Processor,
	name, parentID string,
	target canvas.Port,
	report *Report,
) error {
	change := &RouterChange{ProcessorID: router.ID, Name: router.Name, Rule: name}
	report.Router = change

	current, err := c.client.GetProcessor(ctx, router.ID)
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "get router %s", router.ID)
	}

	existing := c.dialect.FromProperties(current.Properties)
	desired := c.predicates.Desired(c.dialect, name)
	updated, changed := routing.Merge(existing, desired)

	if changed {
		change.RuleAdded = !existing.Has(name)
		change.StrategyForced = !c.dialect.RuleBased(existing)
		current, err = c.applyRules(ctx, current, updated, change)
		if err != nil {
			c.restart(ctx, current, change)
			return err
		}
	}

	// The router can only run once its new relationship is connected.
	conn, err := c.client.CreateConnection(ctx, canvas.ConnectionRequest{
		GroupID:       parentID,
		Name:          name,
		Source:        current.Endpoint(),
		Destination:   target.Endpoint(),
		Relationships: []string{name},
	})
	c.restart(ctx, current, change)
	if err != nil {
		return ferrors.Wrap(err, opAutoConnect, "connect router %s", router.ID)
	}
	report.Input.connect(conn)
	c.logger.Info("connected router to input port",
		slog.String("connection_id", conn.ID),
		slog.String("router_id", router.ID),
		slog.String("rule", name),
		slog.Bool("rule_added", change.RuleAdded))
	return nil
}

// applyRules pushes rs to the router, stopping it first if it is running.
// It returns the router at its latest known revision, also on error, so the
// caller can restart it. The router is left stopped.
func (c *Connector) applyRules(
	ctx context.Context, router *canvas.Processor, rs routing.RuleSet, change *RouterChange,
) (*canvas.Processor, error) {
	if router.State == canvas.StateRunning {
		rev, err := c.client.SetRunState(ctx, router.Component(), canvas.StateStopped)
		if err != nil {
			return router, ferrors.Wrap(err, opAutoConnect, "stop router %s", router.ID)
		}
		router.Revision = rev
		router.State = canvas.StateStopped
		change.Stopped = true
	}

	edited, err := c.client.UpdateProcessorProperties(ctx, router, c.dialect.ToProperties(rs))
	if err != nil {
		return router, ferrors.Wrap(err, opAutoConnect, "update router %s rules", router.ID)
	}

	fresh, err := c.client.GetProcessor(ctx, router.ID)
	if err != nil {
		c.logger.Warn("router re-fetch failed, using update response",
			slog.String("router_id", router.ID),
			slog.String("error", err.Error()))
		return edited, nil
	}
	return fresh, nil
}

// restart starts a router that applyRules stopped. Failures are recorded on
// change and never fail the wiring.
func (c *Connector) restart(ctx context.Context, router *canvas.Processor, change *RouterChange) {
	if !change.Stopped || !c.restartRouter || router == nil {
		return
	}
	if _, err := c.client.SetRunState(ctx, router.Component(), canvas.StateRunning); err != nil {
		change.RestartError = err.Error()
		c.logger.Warn("router restart failed",
			slog.String("router_id", router.ID),
			slog.String("error", err.Error()))
		return
	}
	change.Restarted = true
}
