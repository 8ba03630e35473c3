// Package envelope wraps an op's outcome into the value the script side consumes.
//
// An Envelope is either a CBOR-encoded success payload or an ErrorInfo. The
// error description is plain data (kind, message, cause chain), so a failure
// raised deep inside an asynchronous op reaches the script intact.
package envelope

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/errors"
)

// KindError is the kind of failures that carry no structured kind.
const KindError = "error"

// ErrorInfo describes a failure for the script side.
type ErrorInfo struct {
	Cause   *ErrorInfo `cbor:"cause,omitempty"`
	Kind    string     `cbor:"kind"`
	Message string     `cbor:"message"`
}

// Envelope is the result of one op invocation.
type Envelope struct {
	Err *ErrorInfo `cbor:"err,omitempty"`
	Ok  codec.Raw  `cbor:"ok,omitempty"`
}

// New builds the envelope for a handler's outcome. A value that fails to
// encode produces a failure envelope describing the encode error.
func New(v any, err error) Envelope {
	if err != nil {
		return Fail(err)
	}
	return Ok(v)
}

// Ok encodes v into a success envelope.
func Ok(v any) Envelope {
	raw, err := codec.Encode(v)
	if err != nil {
		return Fail(err)
	}
	return Envelope{Ok: raw}
}

// Fail builds a failure envelope from err.
func Fail(err error) Envelope {
	if err == nil {
		err = stderrors.New("nil error")
	}
	return Envelope{Err: Describe(err)}
}

// IsOK reports whether the envelope carries a success payload.
func (e Envelope) IsOK() bool {
	return e.Err == nil
}

// Decode unmarshals the success payload into v.
func (e Envelope) Decode(v any) error {
	if e.Err != nil {
		return e.Error()
	}
	return codec.Decode(e.Ok, v)
}

// Error returns the failure as a Go error chain, or nil on success.
func (e Envelope) Error() error {
	if e.Err == nil {
		return nil
	}
	return e.Err.AsError()
}

// Marshal encodes the envelope itself to CBOR.
func (e Envelope) Marshal() ([]byte, error) {
	return codec.Encode(e)
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := codec.Decode(b, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Describe converts err into its script-visible description.
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}

	info := &ErrorInfo{Kind: KindError, Message: err.Error()}

	var cause error
	switch e := err.(type) {
	case *RemoteError:
		return e.Info
	case *errors.Error:
		info.Kind = string(e.Kind)
		info.Message = e.Message()
		cause = e.Cause
	case interface{ Unwrap() error }:
		cause = e.Unwrap()
		if k, ok := errors.KindOf(cause); ok {
			info.Kind = string(k)
		}
	}

	if cause != nil {
		info.Cause = Describe(cause)
	}
	return info
}

// Chain returns the description followed by each of its causes.
func (i *ErrorInfo) Chain() []*ErrorInfo {
	var out []*ErrorInfo
	for c := i; c != nil; c = c.Cause {
		out = append(out, c)
	}
	return out
}

// AsError rebuilds a Go error chain from the description.
func (i *ErrorInfo) AsError() error {
	if i == nil {
		return nil
	}
	return &RemoteError{Info: i}
}

// String renders the full chain on one line.
func (i *ErrorInfo) String() string {
	if i == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%s: %s", i.Kind, i.Message)
	if i.Cause != nil {
		s += " (caused by: " + i.Cause.String() + ")"
	}
	return s
}

// RemoteError is an ErrorInfo seen through the error interface.
type RemoteError struct {
	Info *ErrorInfo
}

func (e *RemoteError) Error() string {
	return e.Info.Message
}

func (e *RemoteError) Unwrap() error {
	if e.Info.Cause == nil {
		return nil
	}
	return &RemoteError{Info: e.Info.Cause}
}

// Kind returns the described kind.
func (e *RemoteError) Kind() string {
	return e.Info.Kind
}
