// Package observe provides a small observable value cell. Owners hold a
// *Value and publish with Set; everyone else gets a read-only Readable.
package observe

import "sync"

// Readable is the read-only view of a Value.
type Readable[T comparable] interface {
	// Get returns the current value.
	Get() T
	// Subscribe registers fn for every subsequent change and returns a
	// function that removes it. fn is not called with the current value.
	Subscribe(fn func(T)) (unsubscribe func())
}

// Value holds the latest value of T and notifies subscribers on change.
// Setting an equal value is a no-op.
//
// Notifications are delivered synchronously from Set, one Set at a time,
// so subscribers observe changes in the order they were published.
// A subscriber must not call Set on the same Value.
type Value[T comparable] struct {
	pub sync.Mutex // serializes Set + notify

	mu   sync.RWMutex
	cur  T
	subs map[uint64]func(T)
	next uint64
}

// NewValue creates a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cur
}

// Set publishes x. Returns true if the value changed.
func (v *Value[T]) Set(x T) bool {
	v.pub.Lock()
	defer v.pub.Unlock()

	v.mu.Lock()
	if v.cur == x {
		v.mu.Unlock()
		return false
	}
	v.cur = x
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(x)
	}
	return true
}

// Subscribe implements Readable.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// ReadOnly returns a view of v that cannot publish.
func (v *Value[T]) ReadOnly() Readable[T] {
	return view[T]{v: v}
}

type view[T comparable] struct {
	v *Value[T]
}

func (w view[T]) Get() T {
	return w.v.Get()
}

func (w view[T]) Subscribe(fn func(T)) func() {
	return w.v.Subscribe(fn)
}

// Await blocks until r holds a value for which match returns true, or
// done is closed. Returns false if done closed first.
func Await[T comparable](r Readable[T], done <-chan struct{}, match func(T) bool) bool {
	hit := make(chan struct{})
	var once sync.Once
	unsubscribe := r.Subscribe(func(x T) {
		if match(x) {
			once.Do(func() { close(hit) })
		}
	})
	defer unsubscribe()

	if match(r.Get()) {
		return true
	}
	select {
	case <-hit:
		return true
	case <-done:
		return false
	}
}
