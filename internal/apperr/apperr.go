// Package apperr defines the error kinds shared across the pipeline and the
// HTTP surface (spec.md §7). It generalizes the teacher's ad hoc numeric
// response codes (internal/httpapi/handlers: 40101, 50001, ...) into a typed
// Kind the pipeline can branch on, because the pipeline itself (unlike a
// plain HTTP handler) needs to decide whether a failure is retriable,
// carries a log tail, or should overwrite a prior error message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind names a class of failure from spec.md §7. These are not Go type
// names; a single Error struct carries whichever Kind applies.
type Kind string

const (
	BadRequest    Kind = "bad_request"
	ConfigMissing Kind = "config_missing"
	LLMFailure    Kind = "llm_failure"
	BuildFailure  Kind = "build_failure"
	DeployFailure Kind = "deploy_failure"
	StoreFailure  Kind = "store_failure"
	NotFound      Kind = "not_found"
	Unauthorized  Kind = "unauthorized"
)

// Error is the concrete error type carried through the pipeline. BuildFailure
// errors carry SandboxID + LogTail (spec.md §4.3); DeployFailure errors carry
// a credential-sanitized LogTail (spec.md §4.4).
type Error struct {
	Kind      Kind
	Message   string
	SandboxID string
	LogTail   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a bare Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithBuildLog attaches sandbox id + log tail to a BuildFailure error, as
// required by the pipeline's failure-archival step (spec.md §4.1 "Failure
// semantics").
func (e *Error) WithBuildLog(sandboxID, tail string) *Error {
	e.SandboxID = sandboxID
	e.LogTail = tail
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to StoreFailure for anything unrecognized — matching
// spec.md §7's rule that unexpected errors during the pipeline's terminal
// write must not be presented to the client as anything more specific than
// an internal failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return StoreFailure
}
