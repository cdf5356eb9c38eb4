// Package bterr defines canopy's error-kind taxonomy. Every error the
// core returns is one of these kinds, a typed struct with an Unwrap
// wrapping the underlying cause, not a bare string.
package bterr

import "fmt"

// Kind identifies the category of error. The set is intentionally
// non-exhaustive: new kinds may be added without breaking callers that
// switch on the ones they know.
type Kind string

const (
	// XmlParse reports malformed XML or an unsupported BTCPP_format version.
	XmlParse Kind = "xml_parse"
	// UnknownBehavior reports an XML element name absent from the registry.
	UnknownBehavior Kind = "unknown_behavior"
	// UnknownTree reports a <SubTree ID> or factory call referencing a
	// tree ID that was never registered.
	UnknownTree Kind = "unknown_tree"
	// DuplicateName reports a registration conflict where mock shadowing
	// was not explicitly requested.
	DuplicateName Kind = "duplicate_name"
	// PortBinding reports a type mismatch, missing required port, or an
	// unparsable literal bound to a port.
	PortBinding Kind = "port_binding"
	// KeyNotFound reports a blackboard read of an unset key with no
	// default available.
	KeyNotFound Kind = "key_not_found"
	// TypeMismatch reports a blackboard value whose type tag differs from
	// the one the reader expected.
	TypeMismatch Kind = "type_mismatch"
	// ImmutableRemapping reports a write attempted through a literal
	// remapping.
	ImmutableRemapping Kind = "immutable_remapping"
	// ScriptError reports a script parse or evaluation failure.
	ScriptError Kind = "script_error"
	// ChildCount reports a control or decorator node with the wrong
	// number of children.
	ChildCount Kind = "child_count"
	// Halted reports an awaited deadline or future that was cancelled.
	Halted Kind = "halted"
)

// Error is canopy's error type: a Kind, a human message, and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error of the given kind with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
	} else if u, ok := err.(interface{ Unwrap() error }); ok {
		return Is(u.Unwrap(), kind)
	} else {
		return false
	}
	return e.Kind == kind
}

// List accumulates multiple build-time errors so they can be reported
// together.
type List struct {
	Errors []*Error
}

// Add appends an error to the list. A nil err is a no-op.
func (l *List) Add(err *Error) {
	if err == nil {
		return
	}
	l.Errors = append(l.Errors, err)
}

// HasErrors reports whether any errors were accumulated.
func (l *List) HasErrors() bool {
	return len(l.Errors) > 0
}

func (l *List) Error() string {
	if len(l.Errors) == 0 {
		return "no errors"
	}
	if len(l.Errors) == 1 {
		return l.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d errors:", len(l.Errors))
	for _, e := range l.Errors {
		msg += "\n  - " + e.Error()
	}
	return msg
}

// AsError returns the list as an error if non-empty, else nil. Callers use
// this to fold an accumulator into a normal Go error return.
func (l *List) AsError() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}
