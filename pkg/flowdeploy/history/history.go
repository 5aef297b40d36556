// Package history records deployment outcomes.
package history

import (
	"context"
	"errors"
	"time"

	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
)

// Status values stored in a Record.
const (
	StatusDeployed             = "deployed"
	StatusDeployedWithWarnings = "deployed_with_warnings"
	StatusFailed               = "failed"
)

// Record is one finished deployment attempt.
type Record struct {
	DeploymentID  string
	InstanceID    string
	TemplateID    string
	RegistryID    string
	BucketID      string
	FlowID        string
	Version       string
	ParentGroupID string
	GroupID       string
	GroupName     string
	Status        string
	Warnings      []string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the deployment took.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	InstanceID string
	Status     string
	// Limit caps the number of records; zero means no limit.
	Limit int
}

func (f Filter) match(r Record) bool {
	if f.InstanceID != "" && r.InstanceID != f.InstanceID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Store persists deployment records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores a record. A record with an existing DeploymentID
	// replaces the earlier one.
	Append(ctx context.Context, r Record) error

	// Get returns the record for deploymentID, or a NotFound error.
	Get(ctx context.Context, deploymentID string) (*Record, error)

	// List returns matching records, most recent first.
	List(ctx context.Context, f Filter) ([]Record, error)

	// Close releases any resources.
	Close() error
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("history store closed")

var errMissingID = ferrors.BadRequest("append history", "deployment id is required")

func notFound(id string) error {
	return ferrors.NotFound("get history", "deployment %q not found", id)
}
