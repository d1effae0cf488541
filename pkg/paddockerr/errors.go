// Package paddockerr defines the typed error kinds shared across paddock's
// components, so callers (the CLI in particular) can branch on the
// condition rather than matching error strings.
package paddockerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the broad category of failure.
type Kind string

const (
	// ToolchainFailure wraps a failed cargo invocation (build or metadata).
	ToolchainFailure Kind = "toolchain_failure"
	// SchedulerUnavailable means paddockd could not be dialed or spawned.
	SchedulerUnavailable Kind = "scheduler_unavailable"
	// ProcessNotFound means one or more named processes do not exist.
	ProcessNotFound Kind = "process_not_found"
	// StackNotFound means a referenced stack does not exist.
	StackNotFound Kind = "stack_not_found"
	// RecursionLoop means a stack's inheritance chain revisits itself.
	RecursionLoop Kind = "recursion_loop"
	// RecursionDepthExceeded means a stack's inheritance chain exceeds the
	// configured depth limit.
	RecursionDepthExceeded Kind = "recursion_depth_exceeded"
	// ConfigParse wraps a malformed or unreadable paddock.yml.
	ConfigParse Kind = "config_parse"
	// StateIOError wraps a failure reading or writing the state directory.
	StateIOError Kind = "state_io_error"
	// Interrupted means the caller's context was canceled mid-operation.
	Interrupted Kind = "interrupted"
	// Conflict means the requested change is inconsistent with current state.
	Conflict Kind = "conflict"
)

// Error is the concrete error type returned by every paddock package. It
// carries a Kind for programmatic branching and a chain of human-readable
// context strings accumulated as the error propagates up the call stack.
type Error struct {
	Kind    Kind
	Message string
	Context []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, c := range e.Context {
		b.WriteString(": ")
		b.WriteString(c)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WithContext returns a copy of e with an additional context line appended,
// innermost first. Use it while an error propagates up through layers that
// each know something the origin didn't.
func (e *Error) WithContext(format string, args ...any) *Error {
	c := *e
	c.Context = append(append([]string(nil), e.Context...), fmt.Sprintf(format, args...))
	return &c
}

// New constructs an Error of the given kind wrapping err, which may be nil.
func New(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or any error in its chain) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func NewToolchainFailure(err error, format string, args ...any) *Error {
	return New(ToolchainFailure, err, format, args...)
}

func NewSchedulerUnavailable(err error, format string, args ...any) *Error {
	return New(SchedulerUnavailable, err, format, args...)
}

// NewProcessNotFound reports one or more process names that don't exist.
func NewProcessNotFound(names []string) *Error {
	return New(ProcessNotFound, nil, "process not found: %s", strings.Join(names, ", "))
}

func NewStackNotFound(name string) *Error {
	return New(StackNotFound, nil, "stack not found: %s", name)
}

func NewRecursionLoop(stack string) *Error {
	return New(RecursionLoop, nil, "inheritance loop detected at stack %q", stack)
}

func NewRecursionDepthExceeded(stack string, limit int) *Error {
	return New(RecursionDepthExceeded, nil, "inheritance depth exceeded %d resolving stack %q", limit, stack)
}

func NewConfigParse(err error, path string) *Error {
	return New(ConfigParse, err, "failed to parse %s", path)
}

func NewStateIOError(err error, format string, args ...any) *Error {
	return New(StateIOError, err, format, args...)
}

func NewInterrupted(err error) *Error {
	return New(Interrupted, err, "operation interrupted")
}

func NewConflict(format string, args ...any) *Error {
	return New(Conflict, nil, format, args...)
}
