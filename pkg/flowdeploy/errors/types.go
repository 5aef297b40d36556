package errors

import "fmt"

// HTTPError represents a non-success response from the remote engine.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ConflictError reports that a subtree with the requested name already
// exists under the target group. It carries enough detail for the caller
// to reuse the existing subtree or pick another name.
type ConflictError struct {
	// Name is the colliding display name.
	Name string

	// ParentID is the group that already contains Name.
	ParentID string

	// ExistingID is the id of the existing group.
	ExistingID string

	// UnderVersionControl is true when the existing group tracks a registry flow.
	UnderVersionControl bool
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("group %q already exists under %s (id: %s, version controlled: %t)",
		e.Name, e.ParentID, e.ExistingID, e.UnderVersionControl)
}
