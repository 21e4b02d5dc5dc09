package remote

import (
	"reflect"
	"sync"
)

// Observable holds a snapshot and notifies subscribers when it changes.
type Observable[T any] struct {
	mu        sync.Mutex
	value     T
	version   uint64
	delivered uint64
	subs      map[int]func(T)
	next      int

	// deliverMu orders publications so subscribers see values in the order
	// they were stored. Subscribers must not call Set on the same observable.
	deliverMu sync.Mutex
}

// NewObservable creates an observable holding initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{value: initial, subs: map[int]func(T){}}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set replaces the value and notifies subscribers. An equal value is not
// published; Set reports whether the value changed. Concurrent Sets may be
// coalesced, but the last value delivered is always the stored one.
func (o *Observable[T]) Set(v T) bool {
	o.mu.Lock()
	if reflect.DeepEqual(o.value, v) {
		o.mu.Unlock()
		return false
	}
	o.value = v
	o.version++
	o.mu.Unlock()

	o.deliverMu.Lock()
	defer o.deliverMu.Unlock()
	o.mu.Lock()
	if o.delivered == o.version {
		o.mu.Unlock()
		return true
	}
	latest := o.value
	o.delivered = o.version
	subs := make([]func(T), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(latest)
	}
	return true
}

// Subscribe registers fn and returns a function that removes it.
func (o *Observable[T]) Subscribe(fn func(T)) func() {
	o.mu.Lock()
	id := o.next
	o.next++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}
