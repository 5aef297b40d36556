// Package templates stores named deployment templates.
//
// A template pins the registry coordinates of a flow (registry, bucket,
// flow and optionally a version) under a stable id so callers can deploy
// by template id instead of repeating the coordinates.
package templates

import (
	"context"
	"errors"
	"strings"
	"time"

	ferrors "github.com/randalmurphal/flowdeploy/pkg/flowdeploy/errors"
)

// Template is a stored set of flow coordinates.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	RegistryID  string    `json:"registry_id"`
	BucketID    string    `json:"bucket_id"`
	FlowID      string    `json:"flow_id"`
	Version     string    `json:"version,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate reports a BadRequest when a required field is missing.
func (t Template) Validate() error {
	var missing []string
	if t.ID == "" {
		missing = append(missing, "id")
	}
	if t.RegistryID == "" {
		missing = append(missing, "registry_id")
	}
	if t.BucketID == "" {
		missing = append(missing, "bucket_id")
	}
	if t.FlowID == "" {
		missing = append(missing, "flow_id")
	}
	if len(missing) > 0 {
		return ferrors.BadRequest("save template", "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Store persists templates.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the template with id, or a NotFound error.
	Get(ctx context.Context, id string) (*Template, error)

	// Put creates or replaces a template. UpdatedAt is set by the store.
	Put(ctx context.Context, t Template) error

	// List returns all templates ordered by id.
	List(ctx context.Context) ([]Template, error)

	// Delete removes a template. Returns nil if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// Close releases any resources (connections, files).
	Close() error
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("template store closed")

func notFound(id string) error {
	return ferrors.NotFound("get template", "template %q not found", id)
}
