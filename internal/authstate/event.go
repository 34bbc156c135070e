package authstate

import "sync"

type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserDeleted    EventKind = "USER_DELETED"
)

// Event is one auth-state change notification. Session is nil for
// SIGNED_OUT and USER_DELETED.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Subscription is the handle returned by Subscribe. Unsubscribe may be
// called any number of times, including on a nil handle.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Emitter is a typed observable. Listeners run synchronously on the
// emitting goroutine, in subscription order, without the emitter lock held.
// The zero value is ready to use.
type Emitter[T any] struct {
	mu        sync.Mutex
	seq       uint64
	listeners []listener[T]
}

func (e *Emitter[T]) Subscribe(fn func(T)) *Subscription {
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	e.mu.Unlock()
	return &Subscription{cancel: func() { e.remove(id) }}
}

func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := e.listeners
	e.mu.Unlock()
	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len returns the number of live listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			// copy so in-flight Emit snapshots keep their view
			next := make([]listener[T], 0, len(e.listeners)-1)
			next = append(next, e.listeners[:i]...)
			next = append(next, e.listeners[i+1:]...)
			e.listeners = next
			return
		}
	}
}
