//go:build linux

// Package hotplug provides pure Go device hotplug monitoring using netlink.
//
// The monitor socket is non-blocking: callers poll Fd for readability
// (typically through an event dispatcher) and call Receive to drain events.
package hotplug

import (
	"bytes"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Action constants for device events.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Subsystems relevant to capture devices.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemMedia       = "media"
	SubsystemUSB         = "usb"
)

// Event represents a kernel device event.
type Event struct {
	Action    string            // "add", "remove", "change", etc.
	KObj      string            // Kernel object path: /devices/pci0000:00/...
	Subsystem string            // "video4linux", "media", ...
	DevType   string            // Device type if available
	DevName   string            // Device name (e.g., "video0")
	DevPath   string            // DEVPATH property
	Env       map[string]string // All properties from the event
}

// DeviceNode returns the /dev path of the event's device, if it names one.
func (e *Event) DeviceNode() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/dev/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// Monitor listens for kernel device events via netlink.
type Monitor struct {
	fd        int
	buf       []byte
	filters   map[string]struct{}
	filtersMu sync.RWMutex
}

// netlinkKobjectUEvent is the netlink protocol for kernel object events.
const netlinkKobjectUEvent = 15

// NewMonitor creates a non-blocking device event monitor.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	// Bind to the kernel broadcast group
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Monitor{
		fd:      fd,
		buf:     make([]byte, 8192),
		filters: make(map[string]struct{}),
	}, nil
}

// Fd returns the socket descriptor; it becomes readable when events arrive.
func (m *Monitor) Fd() int {
	return m.fd
}

// AddSubsystemFilter adds a subsystem filter. Only events from matching
// subsystems will be returned. If no filters are added, all events pass through.
// This method is safe for concurrent use.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.filtersMu.Lock()
	m.filters[subsystem] = struct{}{}
	m.filtersMu.Unlock()
}

// Close releases the monitor resources.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Receive reads pending messages until it finds one that passes the
// filters. It returns (nil, nil) once the socket has nothing left to read.
func (m *Monitor) Receive() (*Event, error) {
	for {
		n, _, err := unix.Recvfrom(m.fd, m.buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, err
		}

		event := ParseUEvent(m.buf[:n])
		if event == nil || !m.accepts(event) {
			continue
		}
		return event, nil
	}
}

func (m *Monitor) accepts(event *Event) bool {
	m.filtersMu.RLock()
	defer m.filtersMu.RUnlock()
	if len(m.filters) == 0 {
		return true
	}
	_, ok := m.filters[event.Subsystem]
	return ok
}

// ParseUEvent parses a kernel uevent message of the form
// "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0...". Messages rebroadcast by udev
// carry a binary "libudev" header, which is skipped.
func ParseUEvent(data []byte) *Event {
	if bytes.HasPrefix(data, []byte("libudev")) {
		data = skipUdevHeader(data)
	}

	parts := bytes.Split(data, []byte{0})
	header := string(parts[0])
	action, kobj, ok := strings.Cut(header, "@")
	if !ok || action == "" {
		return nil
	}

	event := &Event{
		Action: action,
		KObj:   kobj,
		Env:    make(map[string]string),
	}

	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		event.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			event.Subsystem = value
		case "DEVTYPE":
			event.DevType = value
		case "DEVNAME":
			event.DevName = value
		case "DEVPATH":
			event.DevPath = value
		}
	}

	return event
}

func skipUdevHeader(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0 {
			continue
		}
		rest := data[i+1:]
		if idx := bytes.IndexByte(rest, '@'); idx > 0 && idx < 20 && isAction(rest[:idx]) {
			return rest
		}
	}
	return data
}

func isAction(b []byte) bool {
	for _, c := range b {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
