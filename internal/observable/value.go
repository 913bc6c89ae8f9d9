package observable

import (
	"sync"
	"sync/atomic"
)

// ObserverID identifies a registration returned by AddObserver.
type ObserverID uint64

type observer[T any] struct {
	id     ObserverID
	fn     func(T)
	active atomic.Bool
}

// Value is a single mutable cell that notifies its observers on every Set.
//
// Observers are called in registration order. Delivery happens on the goroutine
// calling Set unless an Executor is configured. Delivery is not atomic with
// concurrent Set calls, so observers must treat every notification as
// "latest known value".
type Value[T any] struct {
	mu        sync.Mutex
	value     T
	hasValue  bool
	replay    bool
	nextID    ObserverID
	observers []*observer[T]
	executor  Executor
}

type Option func(*options)

type options struct {
	executor Executor
}

// WithExecutor redirects observer delivery, e.g. to a serial "main" executor.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// NewValue creates an empty Value.
func NewValue[T any](opts ...Option) *Value[T] {
	return newValue[T](true, opts)
}

// NewValueOf creates a Value holding initial.
func NewValueOf[T any](initial T, opts ...Option) *Value[T] {
	v := newValue[T](true, opts)
	v.value = initial
	v.hasValue = true
	return v
}

// NewStream creates a Value that never replays to new observers and keeps nothing
// after delivery. Used for one-shot events.
func NewStream[T any](opts ...Option) *Value[T] {
	return newValue[T](false, opts)
}

func newValue[T any](replay bool, opts []Option) *Value[T] {
	o := options{executor: Immediate{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Value[T]{replay: replay, executor: o.executor}
}

// Get returns the last value and whether one was ever set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.hasValue
}

// Set stores value and notifies every registered observer.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	if v.replay {
		v.value = value
		v.hasValue = true
	}
	snapshot := make([]*observer[T], len(v.observers))
	copy(snapshot, v.observers)
	v.mu.Unlock()

	for _, obs := range snapshot {
		v.deliver(obs, value)
	}
}

// AddObserver registers fn and immediately replays the current value, if any.
func (v *Value[T]) AddObserver(fn func(T)) ObserverID {
	v.mu.Lock()
	v.nextID++
	obs := &observer[T]{id: v.nextID, fn: fn}
	obs.active.Store(true)
	v.observers = append(v.observers, obs)
	current, replay := v.value, v.replay && v.hasValue
	v.mu.Unlock()

	if replay {
		v.deliver(obs, current)
	}
	return obs.id
}

// RemoveObserver deregisters id. It returns false when id was not registered.
func (v *Value[T]) RemoveObserver(id ObserverID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, obs := range v.observers {
		if obs.id == id {
			obs.active.Store(false)
			v.observers = append(v.observers[:i], v.observers[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered observers.
func (v *Value[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.observers)
}

func (v *Value[T]) deliver(obs *observer[T], value T) {
	v.executor.Execute(func() {
		if obs.active.Load() {
			obs.fn(value)
		}
	})
}
