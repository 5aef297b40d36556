package wiring

import (
	"fmt"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/canvas"
)

// InputMode is how the child's input was wired.
type InputMode string

// Input modes.
const (
	ModeUnknown InputMode = ""
	ModeRouter  InputMode = "router"
	ModeDirect  InputMode = "direct"
	ModeNone    InputMode = "none"
)

// SideStatus is the outcome of one wiring side.
type SideStatus string

// Side outcomes.
const (
	SideConnected SideStatus = "connected"
	SideSkipped   SideStatus = "skipped"
	SideFailed    SideStatus = "failed"
)

// Side reports one direction of wiring.
type Side struct {
	Status     SideStatus         `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Connection *canvas.Connection `json:"connection,omitempty"`
}

func (s *Side) connect(conn *canvas.Connection) {
	s.Status = SideConnected
	s.Connection = conn
}

func (s *Side) skip(reason string) {
	s.Status = SideSkipped
	s.Reason = reason
}

func (s *Side) fail(err error) {
	s.Status = SideFailed
	s.Reason = err.Error()
}

// RouterChange describes what was done to the parent's router.
type RouterChange struct {
	ProcessorID    string `json:"processor_id"`
	Name           string `json:"name"`
	Rule           string `json:"rule"`
	RuleAdded      bool   `json:"rule_added"`
	StrategyForced bool   `json:"strategy_forced"`
	Stopped        bool   `json:"stopped"`
	Restarted      bool   `json:"restarted"`
	RestartError   string `json:"restart_error,omitempty"`
}

// Report is the outcome of AutoConnect.
type Report struct {
	ChildID   string        `json:"child_id"`
	ChildName string        `json:"child_name,omitempty"`
	ParentID  string        `json:"parent_id"`
	Output    Side          `json:"output"`
	Input     Side          `json:"input"`
	Mode      InputMode     `json:"mode,omitempty"`
	Router    *RouterChange `json:"router,omitempty"`
}

// Warnings returns one line per failed side or router restart failure.
func (r *Report) Warnings() []string {
	var out []string
	if r.Output.Status == SideFailed {
		out = append(out, fmt.Sprintf("output wiring: %s", r.Output.Reason))
	}
	if r.Input.Status == SideFailed {
		out = append(out, fmt.Sprintf("input wiring: %s", r.Input.Reason))
	}
	if r.Router != nil && r.Router.RestartError != "" {
		out = append(out, fmt.Sprintf("router %s left stopped: %s", r.Router.ProcessorID, r.Router.RestartError))
	}
	return out
}

// Connected reports whether any connection was created.
func (r *Report) Connected() bool {
	return r.Output.Status == SideConnected || r.Input.Status == SideConnected
}
