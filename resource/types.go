package resource

// ID is an opaque resource id handed to script code.
// ID 0 is reserved and always invalid.
type ID uint32

// Resource is a host-side object reachable from ops through its ID.
type Resource interface {
	// Name identifies the resource kind in listings (e.g. "timer", "buffer").
	Name() string
}

// Closer is optionally implemented by resources that release something on close.
type Closer interface {
	Close()
}

// EventType identifies a resource lifecycle notification.
type EventType uint8

const (
	EventAdded EventType = iota
	EventClosed
	EventBorrowed
	EventReleased
)

// Event represents a resource lifecycle event.
type Event struct {
	Resource Resource
	ID       ID
	Type     EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage for a Table.
type Backend interface {
	// Add stores r and returns its id.
	Add(r Resource) (ID, error)

	// Get retrieves a resource by id.
	Get(id ID) (Resource, bool)

	// Borrow marks the resource as in use by a suspended op.
	Borrow(id ID) (Resource, bool)

	// Release returns a borrow taken with Borrow.
	Release(id ID) bool

	// Remove deletes the resource. It fails while borrows are outstanding.
	Remove(id ID) (Resource, error)

	// Close releases every resource held by the backend.
	Close() error

	// Len returns the number of live resources.
	Len() int

	// Each calls fn for every live resource until fn returns false.
	Each(fn func(ID, Resource) bool)
}
