package resource

import (
	"fmt"
	"sync"

	"github.com/wippyai/opcore/errors"
)

// Table maps resource ids to host objects and notifies observers of changes.
type Table struct {
	backend   Backend
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a table backed by a LocalBackend.
func NewTable() *Table {
	return NewTableWithBackend(NewLocalBackend())
}

// NewTableWithBackend creates a table over b.
func NewTableWithBackend(b Backend) *Table {
	return &Table{backend: b}
}

// Add stores r and returns its id.
func (t *Table) Add(r Resource) (ID, error) {
	id, err := t.backend.Add(r)
	if err != nil {
		return 0, err
	}
	t.notify(Event{Type: EventAdded, ID: id, Resource: r})
	return id, nil
}

// Get retrieves a resource by id.
func (t *Table) Get(id ID) (Resource, error) {
	r, ok := t.backend.Get(id)
	if !ok {
		return nil, errors.BadResource(uint32(id), "not found")
	}
	return r, nil
}

// Borrow keeps the resource from being closed until Release is called.
func (t *Table) Borrow(id ID) (Resource, error) {
	r, ok := t.backend.Borrow(id)
	if !ok {
		return nil, errors.BadResource(uint32(id), "not found")
	}
	t.notify(Event{Type: EventBorrowed, ID: id, Resource: r})
	return r, nil
}

// Release returns a borrow taken with Borrow.
func (t *Table) Release(id ID) {
	r, _ := t.backend.Get(id)
	if t.backend.Release(id) {
		t.notify(Event{Type: EventReleased, ID: id, Resource: r})
	}
}

// Close removes the resource and runs its Close method.
func (t *Table) Close(id ID) error {
	r, err := t.backend.Remove(id)
	if err != nil {
		return err
	}
	if c, ok := r.(Closer); ok {
		c.Close()
	}
	t.notify(Event{Type: EventClosed, ID: id, Resource: r})
	return nil
}

// Names lists live resources by id.
func (t *Table) Names() map[ID]string {
	names := make(map[ID]string)
	t.backend.Each(func(id ID, r Resource) bool {
		names[id] = r.Name()
		return true
	})
	return names
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// CloseAll closes every resource and stops accepting new ones.
func (t *Table) CloseAll() error {
	return t.backend.Close()
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// Get retrieves the resource id as a T.
func Get[T Resource](t *Table, id ID) (T, error) {
	var zero T
	r, err := t.Get(id)
	if err != nil {
		return zero, err
	}
	typed, ok := r.(T)
	if !ok {
		return zero, errors.BadResource(uint32(id),
			fmt.Sprintf("is %s, not %T", r.Name(), zero))
	}
	return typed, nil
}
