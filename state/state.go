// Package state holds the host-side resources shared by every op call.
//
// A session owns one State behind one Handle. Synchronous ops receive the
// *State while the dispatcher holds the handle's exclusive section for the
// duration of the call. Asynchronous ops receive the *Handle itself and enter
// an exclusive section only around each moment they touch shared resources:
//
//	err := h.With(func(st *state.State) error {
//	    buf, err := resource.Get[*Buffer](st.Resources, id)
//	    ...
//	})
//
// Sections never overlap. With must not be called from inside another
// section; the mutex is not reentrant.
package state

import (
	"reflect"
	"sync"

	"github.com/wippyai/opcore/resource"
)

// State is the container of host resources reachable from ops.
type State struct {
	Resources *resource.Table
	slots     map[reflect.Type]any
}

// New creates an empty State.
func New() *State {
	return &State{
		Resources: resource.NewTable(),
		slots:     make(map[reflect.Type]any),
	}
}

func slotKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Put stores v in the slot for its type, replacing any previous value.
func Put[T any](st *State, v T) {
	st.slots[slotKey[T]()] = v
}

// Borrow returns the value stored for T.
func Borrow[T any](st *State) (T, bool) {
	v, ok := st.slots[slotKey[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	typed, _ := v.(T)
	return typed, true
}

// Take removes and returns the value stored for T.
func Take[T any](st *State) (T, bool) {
	v, ok := Borrow[T](st)
	if ok {
		delete(st.slots, slotKey[T]())
	}
	return v, ok
}

// Has reports whether a value is stored for T.
func Has[T any](st *State) bool {
	_, ok := st.slots[slotKey[T]()]
	return ok
}

// Handle guards a State. It is shared by every call of a session and may
// outlive the call that created an asynchronous task.
type Handle struct {
	st *State
	mu sync.Mutex
}

// NewHandle wraps st.
func NewHandle(st *State) *Handle {
	return &Handle{st: st}
}

// With runs fn with exclusive access to the state.
func (h *Handle) With(fn func(st *State) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.st)
}

// TryWith runs fn only if no other section is active. It reports whether fn ran.
func (h *Handle) TryWith(fn func(st *State) error) (bool, error) {
	if !h.mu.TryLock() {
		return false, nil
	}
	defer h.mu.Unlock()
	return true, fn(h.st)
}
