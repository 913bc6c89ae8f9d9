package blockchain

import (
	"sync"
)

// refCountedListener keeps one chain subscription open while at least one observer
// needs it. acquire on 0->1 opens, release on 1->0 closes, extra releases are ignored.
type refCountedListener struct {
	mu    sync.Mutex
	count int
	open  func() Registration
	reg   Registration
}

func newRefCountedListener(open func() Registration) *refCountedListener {
	return &refCountedListener{open: open}
}

func (l *refCountedListener) acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	if l.count == 1 {
		l.reg = l.open()
	}
}

func (l *refCountedListener) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 && l.reg != nil {
		l.reg.Remove()
		l.reg = nil
	}
}

// reopen moves a live subscription to whatever open now points at, e.g. after the
// active account changed.
func (l *refCountedListener) reopen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	if l.reg != nil {
		l.reg.Remove()
	}
	l.reg = l.open()
}

func (l *refCountedListener) refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
