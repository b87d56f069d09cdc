package camera

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/camkit/internal/dispatcher"
	"github.com/smazurov/camkit/internal/events"
	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/internal/media"
	"github.com/smazurov/camkit/pkg/linuxav/hotplug"
)

// Options configure a Manager.
type Options struct {
	// Sources report media devices. Defaults to the V4L2 nodes in sysfs.
	Sources []media.Source
	// Handlers are tried in order. Defaults to the registered handlers.
	Handlers []HandlerFactory
	// Bus receives camera lifecycle events when set.
	Bus *events.Bus
}

// Manager owns a capture session: the event dispatcher, the device
// enumerator, the pipeline handlers and the cameras they register.
type Manager struct {
	factories []HandlerFactory
	bus       *events.Bus
	logger    *slog.Logger
	enum      *media.Enumerator

	mu        sync.Mutex
	disp      dispatcher.Dispatcher
	sessionID string
	startedAt time.Time
	handlers  []PipelineHandler
	cameras   []*Camera

	postMu sync.Mutex
	posted []func()

	monitor  *hotplug.Monitor
	notifier *dispatcher.Notifier
}

// NewManager creates a stopped manager.
func NewManager(opts Options) *Manager {
	sources := opts.Sources
	if len(sources) == 0 {
		sources = []media.Source{media.SysfsSource{}}
	}
	factories := opts.Handlers
	if len(factories) == 0 {
		factories = PipelineHandlers()
	}
	return &Manager{
		factories: factories,
		bus:       opts.Bus,
		logger:    logging.GetLogger("camera"),
		enum:      media.NewEnumerator(sources...),
	}
}

// Start opens the session: it creates the dispatcher, enumerates devices and
// lets every handler match as many devices as it can.
func (m *Manager) Start() error {
	if len(m.factories) == 0 {
		return ErrNoHandlers
	}

	m.mu.Lock()
	if m.disp != nil {
		m.mu.Unlock()
		return fmt.Errorf("manager already started: %w", ErrInvalidState)
	}
	disp, err := dispatcher.New()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create dispatcher: %w", err)
	}
	m.disp = disp
	m.sessionID = uuid.NewString()
	m.startedAt = time.Now()
	m.mu.Unlock()

	if _, _, err := m.enum.Enumerate(); err != nil {
		m.logger.Warn("Device enumeration incomplete", "error", err)
	}

	handlers := make([]PipelineHandler, 0, len(m.factories))
	for _, f := range m.factories {
		h := f.New(m)
		handlers = append(handlers, h)
		m.match(h)
	}
	m.mu.Lock()
	m.handlers = handlers
	cameras := len(m.cameras)
	m.mu.Unlock()

	m.logger.Info("Camera manager started", "session", m.sessionID, "handlers", len(handlers), "cameras", cameras)
	return nil
}

func (m *Manager) match(h PipelineHandler) {
	for h.Match(m.enum) {
		m.logger.Debug("Pipeline handler matched a device", "pipeline", h.Name())
	}
}

// Stop stops and releases every camera, closes the handlers and the
// dispatcher. Stopping a stopped manager does nothing.
func (m *Manager) Stop() error {
	m.mu.Lock()
	disp := m.disp
	m.mu.Unlock()
	if disp == nil {
		return nil
	}

	m.DisableHotplug()

	for _, cam := range m.Cameras() {
		if err := cam.Stop(); err != nil {
			m.logger.Warn("Failed to stop camera", "camera", cam.ID(), "error", err)
		}
		_ = cam.Release()
	}

	for _, h := range m.Handlers() {
		if err := h.Close(); err != nil {
			m.logger.Warn("Failed to close pipeline handler", "pipeline", h.Name(), "error", err)
		}
	}

	m.mu.Lock()
	m.handlers = nil
	m.cameras = nil
	m.disp = nil
	m.mu.Unlock()

	m.logger.Info("Camera manager stopped", "session", m.sessionID)
	return disp.Close()
}

// SessionID identifies the current session.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// StartedAt returns the time Start was called.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

// Dispatcher returns the session dispatcher, or nil before Start.
func (m *Manager) Dispatcher() dispatcher.Dispatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disp
}

// Enumerator returns the device enumerator.
func (m *Manager) Enumerator() *media.Enumerator { return m.enum }

// Handlers returns the pipeline handlers of the session.
func (m *Manager) Handlers() []PipelineHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.handlers)
}

// Cameras returns the registered cameras.
func (m *Manager) Cameras() []*Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.cameras)
}

// Get returns the camera with the given ID, or nil.
func (m *Manager) Get(id string) *Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cameras {
		if c.id == id {
			return c
		}
	}
	return nil
}

// Find returns the first camera whose ID contains substr, ignoring case.
func (m *Manager) Find(substr string) *Camera {
	substr = strings.ToLower(substr)
	for _, c := range m.Cameras() {
		if strings.Contains(strings.ToLower(c.id), substr) {
			return c
		}
	}
	return nil
}

// Post schedules fn to run on the event loop goroutine after the current
// or next dispatch step. Safe from any goroutine.
func (m *Manager) Post(fn func()) {
	m.postMu.Lock()
	m.posted = append(m.posted, fn)
	m.postMu.Unlock()
	if d := m.Dispatcher(); d != nil {
		d.Interrupt()
	}
}

func (m *Manager) runPosted() {
	m.postMu.Lock()
	fns := m.posted
	m.posted = nil
	m.postMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// ProcessEvents runs one dispatch step followed by the posted functions.
func (m *Manager) ProcessEvents() error {
	d := m.Dispatcher()
	if d == nil {
		return fmt.Errorf("process events: %w", ErrInvalidState)
	}
	err := d.ProcessEvents()
	m.runPosted()
	return err
}

// Run drives the event loop until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	d := m.Dispatcher()
	if d == nil {
		return fmt.Errorf("run: %w", ErrInvalidState)
	}
	stop := context.AfterFunc(ctx, d.Interrupt)
	defer stop()

	for ctx.Err() == nil {
		if err := m.ProcessEvents(); err != nil {
			return err
		}
	}
	return nil
}

// EnableHotplug follows kernel uevents so that cameras appear and
// disappear with their devices.
func (m *Manager) EnableHotplug() error {
	d := m.Dispatcher()
	if d == nil {
		return fmt.Errorf("enable hotplug: %w", ErrInvalidState)
	}
	if m.monitor != nil {
		return nil
	}

	mon, err := hotplug.NewMonitor()
	if err != nil {
		return fmt.Errorf("hotplug monitor: %w", err)
	}
	mon.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)
	mon.AddSubsystemFilter(hotplug.SubsystemMedia)

	n := dispatcher.NewNotifier(mon.Fd(), dispatcher.Read, m.handleHotplug)
	if err := d.RegisterNotifier(n); err != nil {
		mon.Close()
		return fmt.Errorf("register hotplug notifier: %w", err)
	}
	m.monitor = mon
	m.notifier = n
	m.logger.Info("Hotplug monitoring enabled")
	return nil
}

// DisableHotplug stops following uevents.
func (m *Manager) DisableHotplug() {
	if m.monitor == nil {
		return
	}
	if d := m.Dispatcher(); d != nil {
		d.UnregisterNotifier(m.notifier)
	}
	if err := m.monitor.Close(); err != nil {
		m.logger.Warn("Failed to close hotplug monitor", "error", err)
	}
	m.monitor = nil
	m.notifier = nil
}

func (m *Manager) handleHotplug() {
	rescan := false
	for {
		ev, err := m.monitor.Receive()
		if err != nil {
			m.logger.Warn("Failed to receive uevent", "error", err)
			break
		}
		if ev == nil {
			break
		}
		m.logger.Debug("Device event", "action", ev.Action, "subsystem", ev.Subsystem, "devpath", ev.DevPath)
		m.publish(events.DeviceHotplugEvent{
			Action:    ev.Action,
			Subsystem: ev.Subsystem,
			DevNode:   ev.DeviceNode(),
			Timestamp: timestamp(),
		})
		if ev.Action == hotplug.ActionAdd || ev.Action == hotplug.ActionRemove {
			rescan = true
		}
	}
	if rescan {
		m.Rescan()
	}
}

// Rescan refreshes the device list. Cameras of vanished devices are
// disconnected and removed; new devices are offered to every handler.
func (m *Manager) Rescan() {
	added, removed, err := m.enum.Enumerate()
	if err != nil {
		m.logger.Warn("Device enumeration incomplete", "error", err)
	}

	for _, dev := range removed {
		for _, cam := range m.Cameras() {
			if cam.device == dev {
				m.removeCamera(cam)
			}
		}
	}

	if len(added) > 0 {
		for _, h := range m.Handlers() {
			m.match(h)
		}
	}
}

func (m *Manager) addCamera(cam *Camera) error {
	m.mu.Lock()
	for _, c := range m.cameras {
		if c.id == cam.id {
			m.mu.Unlock()
			return fmt.Errorf("camera %q already registered: %w", cam.id, ErrInvalidArgument)
		}
	}
	cam.manager = m
	m.cameras = append(m.cameras, cam)
	m.mu.Unlock()

	m.logger.Info("Camera added", "camera", cam.id, "pipeline", cam.handler.Name())
	m.publish(events.CameraAddedEvent{
		CameraID:  cam.id,
		Pipeline:  cam.handler.Name(),
		Timestamp: timestamp(),
	})
	return nil
}

func (m *Manager) removeCamera(cam *Camera) {
	cam.disconnect()

	m.mu.Lock()
	if i := slices.Index(m.cameras, cam); i >= 0 {
		m.cameras = slices.Delete(m.cameras, i, i+1)
	}
	m.mu.Unlock()

	cam.handler.RemoveCamera(cam)
	m.logger.Info("Camera removed", "camera", cam.id)
	m.publish(events.CameraRemovedEvent{CameraID: cam.id, Timestamp: timestamp()})
}

func (m *Manager) publish(ev events.Event) {
	if m == nil || m.bus == nil {
		return
	}
	m.bus.Publish(ev)
}

func (m *Manager) publishStateChange(cam *Camera, from, to State) {
	m.publish(events.CameraStateChangedEvent{
		CameraID:  cam.id,
		OldState:  from.String(),
		NewState:  to.String(),
		Timestamp: timestamp(),
	})
}

func (m *Manager) publishRequest(cam *Camera, req *Request) {
	if m == nil || m.bus == nil {
		return
	}
	frames := make([]events.FrameSummary, 0, len(req.buffers))
	for _, sb := range req.buffers {
		md := sb.buffer.Metadata()
		frames = append(frames, events.FrameSummary{
			Stream:    sb.stream.Index(),
			Status:    md.Status.String(),
			Sequence:  md.Sequence,
			BytesUsed: md.BytesUsed(),
		})
	}
	m.publish(events.RequestCompletedEvent{
		CameraID:  cam.id,
		RequestID: req.id,
		Status:    req.status.String(),
		Frames:    frames,
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
