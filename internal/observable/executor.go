package observable

import (
	"sync"
)

// Executor runs observer callbacks.
type Executor interface {
	Execute(fn func())
}

// Immediate runs callbacks on the calling goroutine.
type Immediate struct{}

func (Immediate) Execute(fn func()) { fn() }

// SerialExecutor runs callbacks one at a time, in submission order, on a single
// dedicated goroutine. It plays the role of the main execution context to which
// public callbacks are delivered.
type SerialExecutor struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewSerialExecutor starts the worker goroutine. Close stops it.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *SerialExecutor) Execute(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close drains what is already queued and stops the worker.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	<-e.done
}

func (e *SerialExecutor) run() {
	defer close(e.done)
	for range e.wake {
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()

			fn()
		}
	}
}
