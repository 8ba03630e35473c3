package runtime

import (
	"slices"
	"sync"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
)

// Registry maps op names to dispatcher functions.
// It is sealed by the first call and rejects registrations afterwards.
type Registry struct {
	ops    map[string]op.Fn
	mu     sync.RWMutex
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]op.Fn)}
}

func (r *Registry) Register(name string, fn op.Fn) error {
	if name == "" {
		return errors.Registration(name, errors.InvalidInput(errors.PhaseHost, "op name cannot be empty"))
	}
	if fn == nil {
		return errors.Registration(name, errors.InvalidInput(errors.PhaseHost, "op function cannot be nil"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.Registration(name, errors.Closed("registry"))
	}
	if _, exists := r.ops[name]; exists {
		return errors.Registration(name, errors.InvalidInput(errors.PhaseHost, "op already registered"))
	}
	r.ops[name] = fn
	return nil
}

// MustRegister is Register that panics on error, for static op tables.
func (r *Registry) MustRegister(name string, fn op.Fn) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (op.Fn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.ops[name]
	return fn, ok
}

// Names returns the registered op names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}
