package runtime

import (
	"fmt"
	"sync"

	"github.com/wippyai/opcore"
	"github.com/wippyai/opcore/envelope"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
)

// Resolver settles the script continuation stored for a completion.
type Resolver interface {
	Resolve(c op.Completion) error
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(c op.Completion) error

func (f ResolverFunc) Resolve(c op.Completion) error {
	return f(c)
}

// Continuation receives the envelope for one promise.
type Continuation func(env envelope.Envelope) error

// Continuations is a Resolver backed by Go callbacks keyed by promise id.
// Each continuation runs at most once.
type Continuations struct {
	m  map[opcore.PromiseID]Continuation
	mu sync.Mutex
}

func NewContinuations() *Continuations {
	return &Continuations{m: make(map[opcore.PromiseID]Continuation)}
}

// Store registers fn under id. Id 0 and ids already waiting are rejected.
func (c *Continuations) Store(id opcore.PromiseID, fn Continuation) error {
	if id == opcore.NoPromise {
		return errors.InvalidPromiseID(id, fmt.Errorf("promise id 0 cannot be awaited"))
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseDispatch, "continuation cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.m[id]; exists {
		return errors.InvalidPromiseID(id, fmt.Errorf("promise %d is already waiting", id))
	}
	c.m[id] = fn
	return nil
}

// Resolve removes the continuation for comp.PromiseID and calls it.
func (c *Continuations) Resolve(comp op.Completion) error {
	c.mu.Lock()
	fn, ok := c.m[comp.PromiseID]
	delete(c.m, comp.PromiseID)
	c.mu.Unlock()

	if !ok {
		return errors.NotFound(errors.PhaseDispatch, "continuation", fmt.Sprint(comp.PromiseID))
	}
	return fn(comp.Envelope)
}

// Pending returns the number of stored continuations.
func (c *Continuations) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
