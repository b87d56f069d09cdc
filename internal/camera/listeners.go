package camera

import (
	"slices"
	"sync"
)

// listeners is a set of callbacks that may be removed at any time. A
// callback removed before or during a broadcast is not called afterwards.
type listeners[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]T
}

func (l *listeners[T]) add(fn T) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]T)
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) each(call func(T)) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		l.mu.Lock()
		fn, ok := l.fns[id]
		l.mu.Unlock()
		if ok {
			call(fn)
		}
	}
}
