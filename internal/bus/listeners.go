// Package bus provides the synchronous listener registry shared by the
// pool, the scheduler and the activity log.
//
// Listeners run on the emitting goroutine in registration order. A listener
// that panics is recovered and logged; the remaining listeners still receive
// the event and the emitter never sees the panic.
package bus

import (
	"fmt"
	"sync"

	"github.com/aatumaykin/komorebi/internal/logger"
)

type subscriber[T any] struct {
	id int64
	fn func(T)
}

// Listeners is a set of callbacks receiving values of type T.
// The zero value is not usable; create one with NewListeners.
type Listeners[T any] struct {
	mu           sync.RWMutex
	logger       *logger.Logger
	name         string
	subscribers  []subscriber[T]
	subscriberID int64
}

// NewListeners creates an empty registry. name is used in log records.
func NewListeners[T any](name string, log *logger.Logger) *Listeners[T] {
	if log == nil {
		log = logger.Discard()
	}
	return &Listeners[T]{logger: log, name: name}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (l *Listeners[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	l.mu.Lock()
	l.subscriberID++
	id := l.subscriberID
	l.subscribers = append(l.subscribers, subscriber[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *Listeners[T]) remove(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, s := range l.subscribers {
		if s.id == id {
			l.subscribers = append(l.subscribers[:i:i], l.subscribers[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every listener registered at the time of the call.
func (l *Listeners[T]) Emit(v T) {
	l.mu.RLock()
	snapshot := make([]subscriber[T], len(l.subscribers))
	copy(snapshot, l.subscribers)
	l.mu.RUnlock()

	for _, s := range snapshot {
		l.deliver(s, v)
	}
}

func (l *Listeners[T]) deliver(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("listener panicked", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "listeners", Value: l.name},
				logger.Field{Key: "subscriber_id", Value: s.id})
		}
	}()
	s.fn(v)
}

// Len returns the number of registered listeners.
func (l *Listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers)
}
