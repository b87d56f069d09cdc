//go:build linux

package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("host: completion queue closed")

// CompletionQueue hands completed requests from the dispatch goroutine to a
// consumer running elsewhere. Producers Push and signal an eventfd; the
// consumer waits for the descriptor to become readable and Drains the whole
// queue. Every access to the pending list holds the same mutex.
//
// One queue belongs to one capture session: create it when the session
// starts and Close it when the session stops.
type CompletionQueue struct {
	mu      sync.Mutex
	efd     int
	closed  bool
	pending []*CompletedRequest
}

// NewCompletionQueue creates an empty queue.
func NewCompletionQueue() (*CompletionQueue, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &CompletionQueue{efd: efd}, nil
}

// Fd returns the wake descriptor. It is readable while completions are
// pending.
func (q *CompletionQueue) Fd() int { return q.efd }

// Push appends cr and signals the consumer.
func (q *CompletionQueue) Push(cr *CompletedRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, cr)

	buf := [8]byte{1}
	if _, err := unix.Write(q.efd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("signal completion: %w", err)
	}
	return nil
}

// Drain clears the wake descriptor and returns every pending completion in
// push order. The caller processes them without holding the lock.
func (q *CompletionQueue) Drain() ([]*CompletedRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	var buf [8]byte
	if _, err := unix.Read(q.efd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return nil, fmt.Errorf("read completion signal: %w", err)
	}
	out := q.pending
	q.pending = nil
	return out, nil
}

// Len returns the number of pending completions.
func (q *CompletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until the wake descriptor is readable or ctx is done.
func (q *CompletionQueue) Wait(ctx context.Context) error {
	const slice = 100 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		timeout := slice
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
			timeout = max(time.Until(dl), 0)
		}
		fds := []unix.PollFd{{Fd: int32(q.efd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return fmt.Errorf("poll completion queue: %w", err)
		case n > 0 && fds[0].Revents&unix.POLLNVAL != 0:
			return ErrClosed
		case n > 0:
			return nil
		}
	}
}

// Close drops pending completions and releases the wake descriptor. Later
// pushes fail with ErrClosed.
func (q *CompletionQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.pending = nil
	return unix.Close(q.efd)
}
