// Package errors classifies orchestration failures for callers.
//
// Every failure surfaced by the deployment core falls into one of four kinds:
//   - NotFound: an instance, template, group, processor, port or registry
//     reference does not exist
//   - Conflict: the requested name is already taken at the target path, or a
//     revision went stale between read and write
//   - BadRequest: a required coordinate combination is missing or the
//     operation is unsupported for the registry type
//   - RemoteFailure: the remote engine failed (network, auth, validation)
//
// Kinds map onto HTTP status codes so an outer web layer can translate them
// directly.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents how a failure should be reported to the caller.
type Kind int

const (
	// KindRemoteFailure indicates the remote engine or transport failed.
	// It is the zero value so unknown errors fail safe as server errors.
	KindRemoteFailure Kind = iota

	// KindNotFound indicates a referenced object does not exist.
	KindNotFound

	// KindConflict indicates a name collision or stale revision.
	KindConflict

	// KindBadRequest indicates the request itself is invalid.
	KindBadRequest
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRemoteFailure:
		return "remote_failure"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the status code an outer layer should respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps an error with its kind and the operation that produced it.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op describes what was being attempted ("resolve template", "create group").
	Op string

	// Err is the underlying error. May be nil when Message carries everything.
	Err error

	// Message is a human readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (kind: %s)", e.Op, msg, e.Kind)
	}
	return fmt.Sprintf("%s (kind: %s)", msg, e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new classified error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// NotFound creates a not-found error.
func NotFound(op string, format string, args ...any) *Error {
	return New(KindNotFound, op, fmt.Sprintf(format, args...), nil)
}

// BadRequest creates a bad-request error.
func BadRequest(op string, format string, args ...any) *Error {
	return New(KindBadRequest, op, fmt.Sprintf(format, args...), nil)
}

// Remote wraps a failure reported by the remote engine. If err already
// carries a kind (for example a 404 HTTPError) that kind is preserved.
func Remote(op string, err error) *Error {
	return New(KindOf(err), op, "", err)
}

// Wrap attaches an operation to err while keeping its classification.
// Returns nil if err is nil.
func Wrap(err error, op string, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return New(KindOf(err), op, fmt.Sprintf(format, args...), err)
}

// KindOf determines how an error should be reported.
func KindOf(err error) Kind {
	if err == nil {
		return KindRemoteFailure // shouldn't happen, fail safe
	}

	var kindErr *Error
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return KindConflict
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusNotFound:
			return KindNotFound
		case http.StatusConflict:
			return KindConflict
		case http.StatusBadRequest:
			return KindBadRequest
		default:
			return KindRemoteFailure
		}
	}

	return KindRemoteFailure
}

// HTTPStatus returns the status code for err. Nil maps to 200.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return KindOf(err).HTTPStatus()
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsConflict reports whether err is a conflict failure.
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// IsBadRequest reports whether err is a bad-request failure.
func IsBadRequest(err error) bool {
	return err != nil && KindOf(err) == KindBadRequest
}
