package resource

import (
	"sync"
)

// Handle is an opaque reference to a host value held for a guest.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Kind tags what a handle refers to.
type Kind uint8

const (
	KindShared Kind = iota + 1 // instance from the shared scope
	KindExport                 // value obtained through an import
	KindHost                   // anything else the host hands out
)

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event is delivered to observers when a handle is created or dropped.
type Event struct {
	Value  any
	Key    string
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is optionally implemented by values that need cleanup when their
// handle is removed.
type Dropper interface {
	Drop()
}

type entry struct {
	value any
	key   string
	kind  Kind
	valid bool
}

// Table maps handles to host values for one container.
type Table struct {
	entries   []entry
	freeList  []Handle
	keys      map[string]Handle
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 16),
		freeList: make([]Handle, 0, 4),
		keys:     make(map[string]Handle),
	}
}

// Insert stores value and returns its handle, or 0 after Close.
func (t *Table) Insert(kind Kind, value any) Handle {
	t.mu.Lock()
	h := t.insertLocked(kind, "", value)
	t.mu.Unlock()

	if h != 0 {
		t.notify(Event{Type: EventCreated, Handle: h, Kind: kind, Value: value})
	}
	return h
}

// Intern returns the handle stored under key, inserting value if absent.
// Guests asking for the same shared name repeatedly get the same handle.
func (t *Table) Intern(kind Kind, key string, value any) Handle {
	t.mu.Lock()
	if h, ok := t.keys[key]; ok {
		t.mu.Unlock()
		return h
	}
	h := t.insertLocked(kind, key, value)
	if h != 0 {
		t.keys[key] = h
	}
	t.mu.Unlock()

	if h != 0 {
		t.notify(Event{Type: EventCreated, Handle: h, Kind: kind, Key: key, Value: value})
	}
	return h
}

func (t *Table) insertLocked(kind Kind, key string, value any) Handle {
	if t.closed {
		return 0
	}
	e := entry{kind: kind, key: key, value: value, valid: true}

	if len(t.freeList) > 0 {
		h := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[h-1] = e
		return h
	}

	t.entries = append(t.entries, e)
	return Handle(len(t.entries))
}

// Get returns the value for handle.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.lookup(h)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetKind returns the value only if it was stored with kind.
func (t *Table) GetKind(h Handle, kind Kind) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.lookup(h)
	if !ok || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// lookup must be called with t.mu held.
func (t *Table) lookup(h Handle) (entry, bool) {
	if h == 0 || int(h) > len(t.entries) {
		return entry{}, false
	}
	e := t.entries[h-1]
	return e, e.valid
}

// Remove drops a handle and returns its value.
func (t *Table) Remove(h Handle) (any, bool) {
	t.mu.Lock()
	e, ok := t.lookup(h)
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	t.entries[h-1] = entry{}
	t.freeList = append(t.freeList, h)
	if e.key != "" {
		delete(t.keys, e.key)
	}
	t.mu.Unlock()

	if d, ok := e.value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDropped, Handle: h, Kind: e.kind, Key: e.key, Value: e.value})
	return e.value, true
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

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.valid {
			n++
		}
	}
	return n
}

// Clear removes every handle.
func (t *Table) Clear() {
	t.mu.RLock()
	var handles []Handle
	for i, e := range t.entries {
		if e.valid {
			handles = append(handles, Handle(i+1))
		}
	}
	t.mu.RUnlock()

	for _, h := range handles {
		t.Remove(h)
	}
}

// Close removes every handle and rejects further inserts.
func (t *Table) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Clear()
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
