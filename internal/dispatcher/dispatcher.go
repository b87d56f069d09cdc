// Package dispatcher turns descriptor readiness and deadlines into callbacks.
//
// A Dispatcher is driven by one goroutine calling ProcessEvents in a loop.
// Every callback runs synchronously inside ProcessEvents on that goroutine,
// which makes ProcessEvents the only blocking point of the capture stack.
//
// Two kinds of interest can be registered:
//
//   - a Notifier fires while its descriptor is ready for its EventType;
//   - a Timer fires once its deadline has passed. A firing timer is removed
//     before its callback runs, so the callback may register it again.
//
// Unregistering is idempotent. Once UnregisterNotifier or UnregisterTimer
// returns, the callback does not run again for that registration, even if
// the event was already collected by the ProcessEvents call in progress.
package dispatcher

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyRegistered is returned when a Notifier for the same
	// descriptor and event type, or a still pending Timer, is registered again.
	ErrAlreadyRegistered = errors.New("dispatcher: already registered")
	// ErrClosed is returned by a dispatcher that has been closed.
	ErrClosed = errors.New("dispatcher: closed")
)

// EventType selects the readiness condition a Notifier waits for.
type EventType int

// Event types.
const (
	Read EventType = iota
	Write
	Exception
)

func (t EventType) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case Exception:
		return "exception"
	default:
		return "unknown"
	}
}

// Notifier binds a descriptor and event type to a callback.
type Notifier struct {
	fd  int
	typ EventType
	fn  func()
}

// NewNotifier creates a Notifier. It does nothing until registered.
func NewNotifier(fd int, typ EventType, fn func()) *Notifier {
	return &Notifier{fd: fd, typ: typ, fn: fn}
}

// Fd returns the watched descriptor.
func (n *Notifier) Fd() int { return n.fd }

// Type returns the watched event type.
func (n *Notifier) Type() EventType { return n.typ }

// Timer binds a deadline to a callback. The deadline is supplied on
// registration and fields are owned by the dispatcher while pending.
type Timer struct {
	fn       func()
	deadline time.Time
	seq      uint64
	pending  bool
}

// NewTimer creates a Timer. It does nothing until registered.
func NewTimer(fn func()) *Timer {
	return &Timer{fn: fn}
}

// Deadline returns the deadline of the latest registration.
func (t *Timer) Deadline() time.Time { return t.deadline }

// Dispatcher is the event loop abstraction used by the capture stack.
type Dispatcher interface {
	RegisterNotifier(n *Notifier) error
	UnregisterNotifier(n *Notifier)
	RegisterTimer(t *Timer, deadline time.Time) error
	UnregisterTimer(t *Timer)
	// ProcessEvents waits for at least one event, runs every ready
	// callback and returns. Callers loop around it.
	ProcessEvents() error
	// Interrupt wakes a blocked ProcessEvents. Safe from any goroutine.
	Interrupt()
	Close() error
}
