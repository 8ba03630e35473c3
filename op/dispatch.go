package op

import (
	"context"

	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/envelope"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/state"
)

// SyncFunc is a handler that runs to completion inside the dispatch call.
type SyncFunc[A, B, R any] func(st *state.State, a A, b B) (R, error)

// AsyncFunc is a handler that runs on its own goroutine. It may block, and it
// must enter h.With around each access to shared state.
type AsyncFunc[A, B, R any] func(ctx context.Context, h *state.Handle, a A, b B) (R, error)

// Sync binds fn as a synchronous op. Arguments that fail to decode produce a
// failure envelope without invoking fn. fn runs inside the handle's exclusive
// section.
func Sync[A, B, R any](fn SyncFunc[A, B, R]) Fn {
	return func(h *state.Handle, p Payload) Outcome {
		a, b, err := decodeArgs[A, B](p)
		if err != nil {
			return ImmediateOutcome(envelope.Fail(err))
		}

		var r R
		err = h.With(func(st *state.State) (err error) {
			defer recoverHandler(p.Name, &err)
			r, err = fn(st, a, b)
			return err
		})
		return ImmediateOutcome(envelope.New(r, err))
	}
}

// Async binds fn as an asynchronous op whose pending task keeps the event
// loop alive.
func Async[A, B, R any](fn AsyncFunc[A, B, R]) Fn {
	return async(fn, Tracked)
}

// AsyncUnref binds fn as an asynchronous op whose pending task does not keep
// the event loop alive.
func AsyncUnref[A, B, R any](fn AsyncFunc[A, B, R]) Fn {
	return async(fn, TrackedUnref)
}

func async[A, B, R any](fn AsyncFunc[A, B, R], kind OutcomeKind) Fn {
	return func(h *state.Handle, p Payload) Outcome {
		a, b, err := decodeArgs[A, B](p)
		if err != nil {
			return ImmediateOutcome(envelope.Fail(err))
		}

		name := p.Name
		task := NewTask(p.PromiseID, func(ctx context.Context) envelope.Envelope {
			r, err := callAsync(ctx, name, fn, h, a, b)
			return envelope.New(r, err)
		})
		return Outcome{Kind: kind, Task: task}
	}
}

func callAsync[A, B, R any](ctx context.Context, name string, fn AsyncFunc[A, B, R], h *state.Handle, a A, b B) (r R, err error) {
	defer recoverHandler(name, &err)
	return fn(ctx, h, a, b)
}

func decodeArgs[A, B any](p Payload) (A, B, error) {
	var b B
	a, err := codec.DecodeArg[A](0, p.A)
	if err != nil {
		return a, b, withOp(err, p.Name)
	}
	b, err = codec.DecodeArg[B](1, p.B)
	if err != nil {
		return a, b, withOp(err, p.Name)
	}
	return a, b, nil
}

func withOp(err error, name string) error {
	if e, ok := err.(*errors.Error); ok && e.Op == "" {
		e.Op = name
	}
	return err
}

func recoverHandler(name string, err *error) {
	if r := recover(); r != nil {
		*err = errors.Panic(name, r)
	}
}
