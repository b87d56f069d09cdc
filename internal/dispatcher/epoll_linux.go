//go:build linux

package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/camkit/internal/logging"
	"golang.org/x/sys/unix"
)

const maxEpollEvents = 32

// notifierSet holds the notifiers of one descriptor, indexed by EventType.
type notifierSet [3]*Notifier

func (s *notifierSet) mask() uint32 {
	var m uint32
	if s[Read] != nil {
		m |= unix.EPOLLIN
	}
	if s[Write] != nil {
		m |= unix.EPOLLOUT
	}
	if s[Exception] != nil {
		m |= unix.EPOLLPRI
	}
	return m
}

func (s *notifierSet) empty() bool {
	return s[Read] == nil && s[Write] == nil && s[Exception] == nil
}

// Poll is an epoll based Dispatcher. An eventfd is used to interrupt
// epoll_wait from other goroutines.
type Poll struct {
	epfd   int
	wakefd int
	logger *slog.Logger
	events []unix.EpollEvent

	mu       sync.Mutex
	fds      map[int]*notifierSet
	timers   []*Timer // sorted by deadline, FIFO among equal deadlines
	timerSeq uint64
	closed   bool
}

var _ Dispatcher = (*Poll)(nil)

// New creates an epoll dispatcher.
func New() (*Poll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl(wake): %w", err)
	}

	return &Poll{
		epfd:   epfd,
		wakefd: wakefd,
		logger: logging.GetLogger("dispatcher"),
		events: make([]unix.EpollEvent, maxEpollEvents),
		fds:    make(map[int]*notifierSet),
	}, nil
}

// RegisterNotifier starts watching n's descriptor for n's event type.
func (p *Poll) RegisterNotifier(n *Notifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	set, exists := p.fds[n.fd]
	if !exists {
		set = &notifierSet{}
	} else if set[n.typ] != nil {
		return fmt.Errorf("fd %d %s: %w", n.fd, n.typ, ErrAlreadyRegistered)
	}

	set[n.typ] = n
	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: set.mask(), Fd: int32(n.fd)}
	if err := unix.EpollCtl(p.epfd, op, n.fd, &ev); err != nil {
		set[n.typ] = nil
		return fmt.Errorf("epoll_ctl(fd %d): %w", n.fd, err)
	}
	p.fds[n.fd] = set

	p.logger.Debug("Notifier registered", "fd", n.fd, "type", n.typ)
	return nil
}

// UnregisterNotifier stops watching. Unknown notifiers are ignored.
func (p *Poll) UnregisterNotifier(n *Notifier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, exists := p.fds[n.fd]
	if !exists || set[n.typ] != n {
		return
	}
	set[n.typ] = nil

	var err error
	if set.empty() {
		delete(p.fds, n.fd)
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, n.fd, nil)
	} else {
		ev := unix.EpollEvent{Events: set.mask(), Fd: int32(n.fd)}
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, n.fd, &ev)
	}
	// A descriptor closed before unregistration has already left the epoll set
	if err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		p.logger.Warn("Failed to update epoll set", "fd", n.fd, "error", err)
	}
	p.logger.Debug("Notifier unregistered", "fd", n.fd, "type", n.typ)
}

// RegisterTimer schedules t to fire at deadline.
func (p *Poll) RegisterTimer(t *Timer, deadline time.Time) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if t.pending {
		p.mu.Unlock()
		return ErrAlreadyRegistered
	}

	p.timerSeq++
	t.deadline = deadline
	t.seq = p.timerSeq
	t.pending = true

	i := sort.Search(len(p.timers), func(i int) bool {
		return p.timers[i].deadline.After(deadline)
	})
	p.timers = slices.Insert(p.timers, i, t)
	p.mu.Unlock()

	// A new earliest deadline shortens the current wait
	if i == 0 {
		p.Interrupt()
	}
	return nil
}

// UnregisterTimer cancels a pending timer. Idle timers are ignored.
func (p *Poll) UnregisterTimer(t *Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !t.pending {
		return
	}
	if i := slices.Index(p.timers, t); i >= 0 {
		p.timers = slices.Delete(p.timers, i, i+1)
	}
	t.pending = false
}

// ProcessEvents performs one wait-and-dispatch step. Notifier callbacks run
// first, then expired timers. It must not be called from a callback.
func (p *Poll) ProcessEvents() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	timeout := p.nextTimeout(time.Now())
	p.mu.Unlock()

	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("epoll_wait: %w", err)
		}
		n = 0
	}

	for _, ev := range p.events[:n] {
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		p.dispatch(fd, ev.Events)
	}

	p.processTimers()
	return nil
}

// Interrupt wakes a blocked ProcessEvents.
func (p *Poll) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	buf := [8]byte{1}
	if _, err := unix.Write(p.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		p.logger.Warn("Failed to signal dispatcher", "error", err)
	}
}

// Close releases the epoll and wake descriptors. Registered notifiers and
// timers are dropped without firing.
func (p *Poll) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for _, t := range p.timers {
		t.pending = false
	}
	p.timers = nil
	p.fds = make(map[int]*notifierSet)

	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

// nextTimeout returns the epoll_wait timeout in milliseconds, rounding up so
// that a timer is never woken before its deadline. Caller holds p.mu.
func (p *Poll) nextTimeout(now time.Time) int {
	if len(p.timers) == 0 {
		return -1
	}
	d := p.timers[0].deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func (p *Poll) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// dispatch runs the callbacks matching revents. Each notifier is looked up
// again right before its callback so that an earlier callback of this step
// can unregister it.
func (p *Poll) dispatch(fd int, revents uint32) {
	conditions := [...]struct {
		typ  EventType
		mask uint32
	}{
		{Read, unix.EPOLLIN | unix.EPOLLHUP},
		{Write, unix.EPOLLOUT},
		{Exception, unix.EPOLLPRI | unix.EPOLLERR},
	}

	for _, c := range conditions {
		if revents&c.mask == 0 {
			continue
		}
		p.mu.Lock()
		var n *Notifier
		if set, ok := p.fds[fd]; ok {
			n = set[c.typ]
		}
		p.mu.Unlock()
		if n != nil {
			n.fn()
		}
	}
}

// processTimers fires the timers that expired before this step began.
// Timers registered by a callback during this step wait for the next one.
func (p *Poll) processTimers() {
	now := time.Now()

	p.mu.Lock()
	limit := p.timerSeq
	p.mu.Unlock()

	for {
		p.mu.Lock()
		var fire *Timer
		for i, t := range p.timers {
			if t.deadline.After(now) {
				break
			}
			if t.seq <= limit {
				fire = t
				p.timers = slices.Delete(p.timers, i, i+1)
				t.pending = false
				break
			}
		}
		p.mu.Unlock()

		if fire == nil {
			return
		}
		fire.fn()
	}
}
