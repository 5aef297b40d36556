package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindRemoteFailure, "remote_failure"},
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindBadRequest, "bad_request"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind(%d).String() = %s, want %s", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindRemoteFailure},
		{"HTTP 404", &HTTPError{StatusCode: 404}, KindNotFound},
		{"HTTP 409", &HTTPError{StatusCode: 409}, KindConflict},
		{"HTTP 400", &HTTPError{StatusCode: 400}, KindBadRequest},
		{"HTTP 401", &HTTPError{StatusCode: 401}, KindRemoteFailure},
		{"HTTP 503", &HTTPError{StatusCode: 503}, KindRemoteFailure},
		{"conflict error", &ConflictError{Name: "x"}, KindConflict},
		{"classified", NotFound("op", "missing"), KindNotFound},
		{"wrapped classified", fmt.Errorf("outer: %w", BadRequest("op", "bad")), KindBadRequest},
		{"wrapped HTTP", fmt.Errorf("outer: %w", &HTTPError{StatusCode: 404}), KindNotFound},
		{"unknown error", errors.New("boom"), KindRemoteFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("KindOf() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NotFound("op", "x"), http.StatusNotFound},
		{"conflict", &ConflictError{}, http.StatusConflict},
		{"bad request", BadRequest("op", "x"), http.StatusBadRequest},
		{"remote", Remote("op", errors.New("dial tcp")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestError(t *testing.T) {
	t.Run("message with op", func(t *testing.T) {
		err := NotFound("resolve template", "template %q not found", "t1")
		expected := `resolve template: template "t1" not found (kind: not_found)`
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("message and cause", func(t *testing.T) {
		err := New(KindRemoteFailure, "create group", "segment \"B\"", errors.New("timeout"))
		expected := `create group: segment "B": timeout (kind: remote_failure)`
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("cause only", func(t *testing.T) {
		err := &Error{Err: errors.New("failed")}
		if got := err.Error(); got != "failed (kind: remote_failure)" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("inner error")
		err := Remote("list groups", inner)
		if !errors.Is(err, inner) {
			t.Error("Unwrap should return inner error")
		}
	})

	t.Run("remote keeps HTTP kind", func(t *testing.T) {
		err := Remote("get processor", &HTTPError{StatusCode: 404, Message: "gone"})
		if err.Kind != KindNotFound {
			t.Errorf("Kind = %s, want not_found", err.Kind)
		}
	})
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "op", "msg") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	err := Wrap(&HTTPError{StatusCode: 409}, "update processor", "router %s", "r1")
	if !IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestHelperFunctions(t *testing.T) {
	notFound := &HTTPError{StatusCode: 404}
	conflict := &ConflictError{Name: "a"}
	bad := BadRequest("op", "x")

	t.Run("IsNotFound", func(t *testing.T) {
		if !IsNotFound(notFound) {
			t.Error("404 should be not found")
		}
		if IsNotFound(conflict) {
			t.Error("conflict should not be not found")
		}
		if IsNotFound(nil) {
			t.Error("nil should not be not found")
		}
	})

	t.Run("IsConflict", func(t *testing.T) {
		if !IsConflict(conflict) {
			t.Error("ConflictError should be conflict")
		}
	})

	t.Run("IsBadRequest", func(t *testing.T) {
		if !IsBadRequest(bad) {
			t.Error("BadRequest should be bad request")
		}
	})
}

func TestHTTPErrorMessage(t *testing.T) {
	t.Run("with endpoint", func(t *testing.T) {
		err := &HTTPError{StatusCode: 500, Message: "internal error", Endpoint: "/process-groups/x"}
		expected := "HTTP 500 at /process-groups/x: internal error"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("without endpoint", func(t *testing.T) {
		err := &HTTPError{StatusCode: 404, Message: "not found"}
		if got := err.Error(); got != "HTTP 404: not found" {
			t.Errorf("Error() = %q", got)
		}
	})
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{Name: "SiteB", ParentID: "p1", ExistingID: "g9", UnderVersionControl: true}
	expected := `group "SiteB" already exists under p1 (id: g9, version controlled: true)`
	if got := err.Error(); got != expected {
		t.Errorf("Error() = %q, want %q", got, expected)
	}
}
