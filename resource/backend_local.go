package resource

import (
	"sync"

	"github.com/wippyai/opcore/errors"
)

var (
	ErrClosed            = errors.Closed("resource table")
	ErrOutstandingBorrow = errors.New(errors.PhaseState, errors.KindBusy).
				Detail("cannot close resource with outstanding borrows").Build()
)

var _ Backend = (*LocalBackend)(nil)

// LocalBackend is an in-memory resource backend with borrow tracking.
// Freed ids are reused.
type LocalBackend struct {
	entries  []entry
	freeList []ID
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	res     Resource
	borrows uint32
	valid   bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]ID, 0, 16),
	}
}

// Add stores r and returns its id.
func (b *LocalBackend) Add(r Resource) (ID, error) {
	if r == nil {
		return 0, errors.InvalidInput(errors.PhaseState, "resource cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	e := entry{res: r, valid: true}

	if len(b.freeList) > 0 {
		id := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		b.entries[id-1] = e
		return id, nil
	}

	b.entries = append(b.entries, e)
	return ID(len(b.entries)), nil
}

// lookup returns the live entry for id. Callers hold b.mu.
func (b *LocalBackend) lookup(id ID) *entry {
	if id == 0 || int(id) > len(b.entries) {
		return nil
	}
	e := &b.entries[id-1]
	if !e.valid {
		return nil
	}
	return e
}

// Get retrieves a resource by id.
func (b *LocalBackend) Get(id ID) (Resource, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(id)
	if e == nil {
		return nil, false
	}
	return e.res, true
}

// Borrow increments the borrow count for id.
func (b *LocalBackend) Borrow(id ID) (Resource, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(id)
	if e == nil {
		return nil, false
	}
	e.borrows++
	return e.res, true
}

// Release decrements the borrow count for id.
func (b *LocalBackend) Release(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(id)
	if e == nil || e.borrows == 0 {
		return false
	}
	e.borrows--
	return true
}

// Remove deletes the resource and frees its id.
func (b *LocalBackend) Remove(id ID) (Resource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(id)
	if e == nil {
		return nil, errors.BadResource(uint32(id), "not found")
	}
	if e.borrows > 0 {
		return nil, ErrOutstandingBorrow
	}

	r := e.res
	*e = entry{}
	b.freeList = append(b.freeList, id)
	return r, nil
}

// Close closes every live resource regardless of borrows.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for i := range b.entries {
		if b.entries[i].valid {
			if c, ok := b.entries[i].res.(Closer); ok {
				c.Close()
			}
		}
	}

	b.entries = nil
	b.freeList = nil
	return nil
}

// Len returns the number of live resources.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, e := range b.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over live resources in id order.
func (b *LocalBackend) Each(fn func(ID, Resource) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(ID(i+1), e.res) {
				break
			}
		}
	}
}
