package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in dispatch the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // script value to Go
	PhaseEncode   Phase = "encode"   // Go value to envelope
	PhaseProtocol Phase = "protocol" // call-site contract violations
	PhaseHandler  Phase = "handler"  // op handler failures
	PhaseDispatch Phase = "dispatch" // queueing and resolution
	PhaseState    Phase = "state"    // shared state and resources
	PhaseHost     Phase = "host"     // op registration and engine binding
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindTypeError       Kind = "type_error"
	KindInvalidArgument Kind = "invalid_argument"
	KindMissingArgument Kind = "missing_argument"
	KindNotFound        Kind = "not_found"
	KindBadResource     Kind = "bad_resource"
	KindBusy            Kind = "busy"
	KindInterrupted     Kind = "interrupted"
	KindClosed          Kind = "closed"
	KindRegistration    Kind = "registration"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidData     Kind = "invalid_data"
	KindPanic           Kind = "panic"
)

// NoArg marks errors that are not tied to an argument slot.
const NoArg = -1

// Error is the structured error type used throughout opcore
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
	Arg    int
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message()
	if e.Cause == nil {
		return msg
	}
	return msg + " (caused by: " + e.Cause.Error() + ")"
}

// Message renders the error without its cause chain.
func (e *Error) Message() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.Arg >= 0 {
		fmt.Fprintf(&b, " at position %d", e.Arg)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
			Arg:   NoArg,
		},
	}
}

// Op sets the op name
func (b *Builder) Op(name string) *Builder {
	b.err.Op = name
	return b
}

// Arg sets the argument position
func (b *Builder) Arg(pos int) *Builder {
	b.err.Arg = pos
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidArgument creates a decode error for the argument at pos.
func InvalidArgument(pos int, cause error) *Error {
	return &Error{
		Phase: PhaseDecode,
		Kind:  KindInvalidArgument,
		Arg:   pos,
		Cause: cause,
	}
}

// MissingArgument creates a decode error for an absent required argument.
func MissingArgument(pos int, goType string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindMissingArgument,
		Arg:    pos,
		Detail: "want " + goType,
	}
}

// InvalidPromiseID creates the protocol error for a malformed correlation id.
func InvalidPromiseID(value any, cause error) *Error {
	detail := fmt.Sprintf("invalid promise id: %v", value)
	if cause != nil {
		detail = "invalid promise id: " + cause.Error()
	}
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindTypeError,
		Arg:    NoArg,
		Detail: detail,
		Value:  value,
	}
}

// UnknownOp creates the protocol error for an unregistered op name.
func UnknownOp(name string) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindTypeError,
		Arg:    NoArg,
		Op:     name,
		Detail: fmt.Sprintf("unknown op %q", name),
	}
}

// MissingPromiseID creates the protocol error for an async call made with id 0.
func MissingPromiseID(name string) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindTypeError,
		Arg:    NoArg,
		Op:     name,
		Detail: "async op requires a non-zero promise id",
	}
}

// DuplicatePromiseID creates the protocol error for an id whose earlier task
// has not been drained yet.
func DuplicatePromiseID(name string, id uint64) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindTypeError,
		Arg:    NoArg,
		Op:     name,
		Detail: fmt.Sprintf("promise id %d is already pending", id),
		Value:  id,
	}
}

// BadResource creates an error for an invalid or mistyped resource id.
func BadResource(id uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseState,
		Kind:   KindBadResource,
		Arg:    NoArg,
		Detail: fmt.Sprintf("resource %d: %s", id, detail),
		Value:  id,
	}
}

// Closed creates an error for operations on a closed component.
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindClosed,
		Arg:    NoArg,
		Detail: fmt.Sprintf("%s closed", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Arg:    NoArg,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Arg:    NoArg,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Arg:    NoArg,
		Op:     name,
		Detail: "register op",
		Cause:  cause,
	}
}

// Panic converts a recovered handler panic into an error.
func Panic(name string, recovered any) *Error {
	return &Error{
		Phase:  PhaseHandler,
		Kind:   KindPanic,
		Arg:    NoArg,
		Op:     name,
		Detail: fmt.Sprintf("handler panicked: %v", recovered),
		Value:  recovered,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Arg:    NoArg,
		Detail: detail,
		Cause:  cause,
	}
}

// Position returns the argument position recorded anywhere in err's chain.
func Position(err error) (int, bool) {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return 0, false
		}
		if e.Arg >= 0 {
			return e.Arg, true
		}
		err = e.Cause
	}
	return 0, false
}

// IsProtocol reports whether err is a boundary-level protocol error.
func IsProtocol(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Phase == PhaseProtocol
}

// KindOf returns the kind of the outermost structured error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
