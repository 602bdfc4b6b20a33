package bus

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw JSON arguments of a published event.
type Handler func(args ...json.RawMessage)

// PanicFunc is invoked when a handler panics during Publish.
type PanicFunc func(event string, recovered any)

// Bus is a publish/subscribe registry keyed by event name.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]*entry
	nextID   int64
	onPanic  PanicFunc
}

// entry ties a handler to a removal ID.
type entry struct {
	id   int64
	fn   Handler
	once bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string][]*entry),
	}
}

// OnPanic installs the hook invoked when a handler panics. Passing nil
// removes the hook.
func (b *Bus) OnPanic(fn PanicFunc) {
	b.mu.Lock()
	b.onPanic = fn
	b.mu.Unlock()
}

// Subscribe registers a handler for event and returns a disposer that
// removes it. The disposer is safe to call more than once.
func (b *Bus) Subscribe(event string, fn Handler) func() {
	return b.add(event, fn, false)
}

// Once registers a handler that is removed after its first delivery.
// The returned disposer removes it earlier.
func (b *Bus) Once(event string, fn Handler) func() {
	return b.add(event, fn, true)
}

func (b *Bus) add(event string, fn Handler, once bool) func() {
	b.mu.Lock()
	b.nextID++
	e := &entry{id: b.nextID, fn: fn, once: once}
	b.handlers[event] = append(b.handlers[event], e)
	b.mu.Unlock()

	return func() {
		b.remove(event, e.id)
	}
}

func (b *Bus) remove(event string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[event]
	for i, e := range entries {
		if e.id == id {
			b.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// Publish delivers args to every handler registered for event. Handlers
// registered via Once are removed before delivery. Delivery happens on the
// caller's goroutine, outside the bus lock.
func (b *Bus) Publish(event string, args ...json.RawMessage) {
	b.mu.Lock()
	entries := b.handlers[event]
	snapshot := make([]*entry, len(entries))
	copy(snapshot, entries)

	kept := entries[:0]
	for _, e := range entries {
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, event)
	} else {
		b.handlers[event] = kept
	}
	hook := b.onPanic
	b.mu.Unlock()

	for _, e := range snapshot {
		b.dispatch(event, e.fn, args, hook)
	}
}

func (b *Bus) dispatch(event string, fn Handler, args []json.RawMessage, hook PanicFunc) {
	defer func() {
		if r := recover(); r != nil && hook != nil {
			hook(event, r)
		}
	}()
	fn(args...)
}

// HandlerCount returns the number of handlers registered for event.
func (b *Bus) HandlerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}
