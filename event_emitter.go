package realtime

import (
	"reflect"
	"sync"
)

type callback[V any] func(V)

// EventEmitter maps events (of type K) to ordered listener lists. Listeners
// registered for the same event run in registration order. The registry is
// not deduplicated: registering the same function twice invokes it twice.
type EventEmitter[K comparable, V any] struct {
	logger    logger
	listeners map[K][]callback[V]
	lock      sync.RWMutex
}

// NewEventEmitter creates a new EventEmitter and returns a pointer to it.
func NewEventEmitter[K comparable, V any](logger logger) *EventEmitter[K, V] {
	return &EventEmitter[K, V]{
		logger:    logger.WithField("type", "event_emitter"),
		listeners: make(map[K][]callback[V]),
	}
}

// On registers a new listener for the given event.
func (e *EventEmitter[K, V]) On(event K, listener func(V)) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners[event] = append(e.listeners[event], listener)
}

// Off removes every registration of listener for the given event. Functions
// are matched by identity, so the value passed here must be the same one that
// was passed to On. Removing a listener that was never registered is a no-op.
func (e *EventEmitter[K, V]) Off(event K, listener func(V)) {
	ptr := reflect.ValueOf(listener).Pointer()

	e.lock.Lock()
	defer e.lock.Unlock()

	registered, found := e.listeners[event]
	if !found {
		return
	}

	kept := make([]callback[V], 0, len(registered))
	for _, l := range registered {
		if reflect.ValueOf(l).Pointer() != ptr {
			kept = append(kept, l)
		}
	}

	if len(kept) == 0 {
		delete(e.listeners, event)
		return
	}
	e.listeners[event] = kept
}

// Emit synchronously invokes, in registration order, every listener currently
// registered for the given event. Each invocation is isolated: a panicking
// listener is logged and the remaining listeners still run.
func (e *EventEmitter[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	registered := e.listeners[event]
	listeners := make([]callback[V], len(registered))
	copy(listeners, registered)
	e.lock.RUnlock()

	for _, listener := range listeners {
		e.invoke(event, listener, data)
	}
}

func (e *EventEmitter[K, V]) invoke(event K, listener callback[V], data V) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("listener for event %v panicked: %v", event, r)
		}
	}()

	listener(data)
}

// RemoveAllListeners removes all listeners for all events.
func (e *EventEmitter[K, V]) RemoveAllListeners() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]callback[V])
}

// Close removes all listeners to prevent memory leaks.
func (e *EventEmitter[K, V]) Close() {
	e.RemoveAllListeners()
}
