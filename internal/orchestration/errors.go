// Package orchestration provides the typed error taxonomy shared by every
// pipeline component (§7): Validation, Precondition, TransientExternal,
// PermanentExternal, Internal, Resource. Components wrap the underlying
// cause with Wrap so that the API layer can map a Kind to an HTTP status
// without string-matching error messages.
package orchestration

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is one of the six error classes of §7.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindPrecondition      Kind = "precondition"
	KindTransientExternal Kind = "transient_external"
	KindPermanentExternal Kind = "permanent_external"
	KindInternal          Kind = "internal"
	KindResource          Kind = "resource"
)

// Error is the single typed error value carried up every call stack.
// Component and Op name where the failure occurred (e.g. "audioanalysis",
// "detectBeats"); TraceID is generated for Internal errors so the
// user-facing message can stay generic while logs retain the detail.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Message   string
	Cause     error
	TraceID   string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds a typed Error. For KindInternal it stamps a fresh trace id
// so the generic user-facing message can be correlated back to logs.
func Wrap(kind Kind, component, op, message string, cause error) *Error {
	e := &Error{Kind: kind, Component: component, Op: op, Message: message, Cause: cause}
	if kind == KindInternal {
		e.TraceID = uuid.NewString()
	}
	return e
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// errors that were never wrapped (an unexpected exception, per §7.5).
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInternal
}

// Retriable reports whether err's kind is retried with backoff per the
// component's retry policy (transient external failures only — §4.1,
// §4.4, §4.6 all retry exactly this class).
func Retriable(err error) bool {
	return KindOf(err) == KindTransientExternal
}
