// Package fault defines the closed set of error kinds used across the
// control plane and the helpers that classify arbitrary errors into them.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is a coarse error category. The set is closed; every error that
// crosses a component boundary maps to exactly one kind.
type Kind string

const (
	BadRequest Kind = "bad_request" // malformed input, invariant refusal
	NotFound   Kind = "not_found"   // unknown id
	Conflict   Kind = "conflict"    // uniqueness violation (name, port, branch, pane)
	Upstream   Kind = "upstream"    // external command non-zero exit
	Timeout    Kind = "timeout"     // external command wall clock elapsed
	Transient  Kind = "transient"   // reconnect-worthy
	Internal   Kind = "internal"    // anything else
)

// Error pairs a kind with an underlying error. ExitCode and Stderr are
// populated for Upstream errors so callers can surface command output.
type Error struct {
	Kind     Kind
	Err      error
	ExitCode int
	Stderr   string
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Err, strings.TrimSpace(e.Stderr))
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving the chain.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf("%s: %w", msg, err)}
}

// UpstreamExit builds an Upstream fault carrying the exit code and stderr
// of a failed external command.
func UpstreamExit(operation string, code int, stderr string) *Error {
	return &Error{
		Kind:     Upstream,
		Err:      fmt.Errorf("%s failed (exit code %d)", operation, code),
		ExitCode: code,
		Stderr:   stderr,
	}
}

// KindOf returns the kind of err, classifying unknown errors by sentinel
// checks first and message patterns second. nil maps to the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation comes from the caller, not from a slow upstream.
		return Internal
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "not found", "does not exist", "no such"):
		return NotFound
	case containsAny(msg, "already exists", "duplicate", "conflict", "unique constraint"):
		return Conflict
	case containsAny(msg, "invalid", "bad request", "malformed"):
		return BadRequest
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "temporarily unavailable"):
		return Transient
	}
	return Internal
}

// IsKind reports whether err classifies to kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code the web layer responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Upstream:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	case Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
