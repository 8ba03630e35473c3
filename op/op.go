// Package op defines the call-site payload, the dispatch outcome and the
// typed dispatchers that bind Go handlers to the uniform Fn contract.
package op

import (
	"context"
	"sync"

	"github.com/wippyai/opcore"
	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/envelope"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/state"
)

// Unit is the argument type of ignored slots.
type Unit = codec.Unit

// Payload is the decoded call-site data of one invocation.
type Payload struct {
	Name      string
	A         codec.Raw
	B         codec.Raw
	PromiseID opcore.PromiseID
}

// Fn is the uniform dispatcher every registered op is reduced to.
type Fn func(h *state.Handle, p Payload) Outcome

// OutcomeKind tags an Outcome.
type OutcomeKind uint8

const (
	Immediate    OutcomeKind = iota // result available now
	Tracked                         // pending, keeps the event loop alive
	TrackedUnref                    // pending, does not keep the loop alive
	NotFound                        // no op under the invoked name
)

func (k OutcomeKind) String() string {
	switch k {
	case Immediate:
		return "immediate"
	case Tracked:
		return "tracked"
	case TrackedUnref:
		return "tracked_unref"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching one call. Envelope is set for
// Immediate, Task for Tracked and TrackedUnref.
type Outcome struct {
	Task     *Task
	Envelope envelope.Envelope
	Kind     OutcomeKind
}

// ImmediateOutcome wraps an envelope that is ready now.
func ImmediateOutcome(env envelope.Envelope) Outcome {
	return Outcome{Kind: Immediate, Envelope: env}
}

// NotFoundOutcome reports that no handler exists.
func NotFoundOutcome() Outcome {
	return Outcome{Kind: NotFound}
}

// Completion is the result of a finished Task.
type Completion struct {
	Envelope  envelope.Envelope
	PromiseID opcore.PromiseID
}

// Task is a pending asynchronous unit of work. It does nothing until Run.
type Task struct {
	run  func(ctx context.Context) envelope.Envelope
	id   opcore.PromiseID
	once sync.Once
}

// NewTask creates a task that produces the envelope for id when run.
func NewTask(id opcore.PromiseID, run func(ctx context.Context) envelope.Envelope) *Task {
	return &Task{id: id, run: run}
}

// PromiseID returns the correlation id the task completes.
func (t *Task) PromiseID() opcore.PromiseID {
	return t.id
}

// Run executes the task. Only the first call runs the work; later calls
// report a dispatch error instead of producing a second result.
func (t *Task) Run(ctx context.Context) Completion {
	c := Completion{
		PromiseID: t.id,
		Envelope: envelope.Fail(errors.New(errors.PhaseDispatch, errors.KindBusy).
			Detail("task for promise %d already ran", t.id).Build()),
	}
	t.once.Do(func() {
		c.Envelope = t.run(ctx)
	})
	return c
}
