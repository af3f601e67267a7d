// Package eventbus provides a synchronous publish/subscribe registry keyed by
// event payload type.
package eventbus

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Subscription identifies one registration made with Subscribe.
// The zero value refers to nothing and is safe to pass to Unsubscribe.
type Subscription struct {
	eventType reflect.Type
	handle    uint64
}

// Valid reports whether the subscription refers to a registration.
func (s Subscription) Valid() bool {
	return s.handle != 0
}

// Observer receives dispatch notifications, typically for metrics.
type Observer interface {
	EventRaised(event string, listeners int)
	ListenerFailed(event string)
}

type entry struct {
	handle   uint64
	callback func(any)
}

// Bus dispatches events to listeners registered for the payload's exact type.
type Bus struct {
	mu         sync.Mutex
	listeners  map[reflect.Type][]entry
	nextHandle uint64
	logger     *zap.Logger
	observer   Observer
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report listener faults.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver attaches an observer notified on every Raise.
func WithObserver(observer Observer) Option {
	return func(b *Bus) {
		b.observer = observer
	}
}

// New constructs an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[reflect.Type][]entry),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func typeOf[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

// Subscribe registers listener for every future Raise of E. Registering the same
// function twice yields two registrations, both of which fire.
func Subscribe[E any](bus *Bus, listener func(E)) Subscription {
	if bus == nil || listener == nil {
		return Subscription{}
	}
	t := typeOf[E]()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextHandle++
	handle := bus.nextHandle
	bus.listeners[t] = append(bus.listeners[t], entry{
		handle: handle,
		callback: func(payload any) {
			v, _ := payload.(E)
			listener(v)
		},
	})
	return Subscription{eventType: t, handle: handle}
}

// Unsubscribe removes the registration identified by sub. Unknown or already
// removed subscriptions are ignored.
func Unsubscribe(bus *Bus, sub Subscription) {
	if bus == nil || !sub.Valid() {
		return
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()

	entries, ok := bus.listeners[sub.eventType]
	if !ok {
		return
	}
	for i, e := range entries {
		if e.handle != sub.handle {
			continue
		}
		// Copy rather than splice in place: Raise may hold the old slice.
		remaining := make([]entry, 0, len(entries)-1)
		remaining = append(remaining, entries[:i]...)
		remaining = append(remaining, entries[i+1:]...)
		if len(remaining) == 0 {
			delete(bus.listeners, sub.eventType)
		} else {
			bus.listeners[sub.eventType] = remaining
		}
		return
	}
}

// Raise delivers payload to every listener registered for E, in registration
// order. Listeners run outside the lock against a snapshot, so they may
// subscribe or unsubscribe while being dispatched. A panicking listener is
// logged and skipped.
func Raise[E any](bus *Bus, payload E) {
	if bus == nil {
		return
	}
	t := typeOf[E]()

	bus.mu.Lock()
	snapshot := bus.listeners[t]
	bus.mu.Unlock()

	if bus.observer != nil {
		bus.observer.EventRaised(t.String(), len(snapshot))
	}
	for _, e := range snapshot {
		bus.dispatch(t, e, payload)
	}
}

func (bus *Bus) dispatch(t reflect.Type, e entry, payload any) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error("event listener failed",
				zap.String("event", t.String()),
				zap.Uint64("handle", e.handle),
				zap.Any("panic", r),
			)
			if bus.observer != nil {
				bus.observer.ListenerFailed(t.String())
			}
		}
	}()
	e.callback(payload)
}

// Clear removes every registration for every event type.
func (bus *Bus) Clear() {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.listeners = make(map[reflect.Type][]entry)
}

// Count returns the number of live registrations for E.
func Count[E any](bus *Bus) int {
	if bus == nil {
		return 0
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return len(bus.listeners[typeOf[E]()])
}

// Len returns the number of event types with at least one listener.
func (bus *Bus) Len() int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return len(bus.listeners)
}
