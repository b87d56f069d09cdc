package led

import (
	"sync"

	"github.com/smazurov/camkit/internal/events"
	"github.com/smazurov/camkit/internal/logging"
)

// Manager drives the indicator LED from camera events: solid while any
// camera is running, heartbeat while cameras exist but none run, off
// otherwise.
type Manager struct {
	controller  Controller
	ledType     string
	eventBus    *events.Bus
	unsubscribe []func()
	logger      logging.Logger

	mu      sync.Mutex
	cameras map[string]bool // camera ID -> running
	pattern string
}

// NewManager creates a manager for the indicator LED of controller.
func NewManager(controller Controller, eventBus *events.Bus, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetLogger("led")
	}
	return &Manager{
		controller: controller,
		ledType:    Indicator(controller),
		eventBus:   eventBus,
		logger:     logger,
		cameras:    make(map[string]bool),
	}
}

// Start subscribes to camera events and switches the LED off.
func (m *Manager) Start() {
	m.unsubscribe = append(m.unsubscribe,
		m.eventBus.Subscribe(func(e events.CameraAddedEvent) {
			m.update(func() { m.cameras[e.CameraID] = false })
		}),
		m.eventBus.Subscribe(func(e events.CameraRemovedEvent) {
			m.update(func() { delete(m.cameras, e.CameraID) })
		}),
		m.eventBus.Subscribe(func(e events.CameraStateChangedEvent) {
			m.update(func() { m.cameras[e.CameraID] = e.NewState == "running" })
		}),
	)
	m.update(func() {})
	m.logger.Info("LED manager started", "led", m.ledType)
}

// Stop unsubscribes from events.
func (m *Manager) Stop() {
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.unsubscribe = nil
	m.logger.Info("LED manager stopped")
}

// Pattern returns the pattern last applied.
func (m *Manager) Pattern() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pattern
}

// Indicator returns the LED type driven by the manager.
func (m *Manager) Indicator() string {
	return m.ledType
}

// Controller returns the underlying LED controller.
func (m *Manager) Controller() Controller {
	return m.controller
}

func (m *Manager) update(change func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	change()

	pattern := PatternOff
	for _, running := range m.cameras {
		if running {
			pattern = PatternSolid
			break
		}
		pattern = PatternHeartbeat
	}
	if pattern == m.pattern {
		return
	}
	m.pattern = pattern
	if m.ledType == "" {
		return
	}
	if err := m.controller.Set(m.ledType, pattern != PatternOff, pattern); err != nil {
		m.logger.Warn("Failed to set indicator LED", "led", m.ledType, "pattern", pattern, "error", err)
		return
	}
	m.logger.Debug("Indicator LED updated", "led", m.ledType, "pattern", pattern, "cameras", len(m.cameras))
}
