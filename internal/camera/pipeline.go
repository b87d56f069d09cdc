package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/smazurov/camkit/internal/dispatcher"
	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/internal/media"
)

// PipelineHandler drives one family of capture devices. The manager calls
// Match until it returns false; every other method is called through the
// Camera that the handler registered.
type PipelineHandler interface {
	// Name identifies the handler in logs and the API.
	Name() string
	// Match claims one device from enum and registers its camera. It
	// reports false, leaving nothing claimed or open, when no further
	// device can be used.
	Match(enum *media.Enumerator) bool
	// GenerateConfiguration returns a default configuration without
	// touching the device.
	GenerateConfiguration(cam *Camera, roles []StreamRole) (*Configuration, error)
	// Configure applies a validated configuration, reads the negotiated
	// format back into it and binds each entry to its stream.
	Configure(cam *Camera, cfg *Configuration) error
	// ExportFrameBuffers allocates the configured number of buffers for
	// stream and hands them to the caller.
	ExportFrameBuffers(cam *Camera, stream *Stream) ([]*FrameBuffer, error)
	// Start prepares the device buffers and starts streaming, releasing
	// them again when streaming cannot start.
	Start(cam *Camera) error
	// Stop ends streaming and releases device buffers. It must be safe to
	// call on a camera that never started.
	Stop(cam *Camera) error
	// QueueRequestDevice submits the buffers of req to the device.
	QueueRequestDevice(cam *Camera, req *Request) error
	// RemoveCamera drops a camera whose device disappeared. The camera is
	// already stopped.
	RemoveCamera(cam *Camera)
	// Close releases every device the handler holds.
	Close() error
}

// PipelineBase implements the bookkeeping shared by pipeline handlers.
// Handlers embed it and override Close when they own more resources.
type PipelineBase struct {
	name    string
	manager *Manager
	logger  *slog.Logger

	mu      sync.Mutex
	devices []*media.Device
	cameras []*Camera
}

// NewPipelineBase creates the shared part of a handler.
func NewPipelineBase(name string, m *Manager) *PipelineBase {
	return &PipelineBase{
		name:    name,
		manager: m,
		logger:  logging.GetLogger("pipeline").With("pipeline", name),
	}
}

// Name returns the handler name.
func (p *PipelineBase) Name() string { return p.name }

// Manager returns the owning manager.
func (p *PipelineBase) Manager() *Manager { return p.manager }

// Dispatcher returns the event dispatcher of the session.
func (p *PipelineBase) Dispatcher() dispatcher.Dispatcher { return p.manager.Dispatcher() }

// Logger returns the handler logger.
func (p *PipelineBase) Logger() *slog.Logger { return p.logger }

// AcquireMediaDevice claims the first free device matching dm. It returns
// nil when none is available.
func (p *PipelineBase) AcquireMediaDevice(enum *media.Enumerator, dm media.DeviceMatch) *media.Device {
	dev := enum.Search(dm)
	if dev == nil {
		return nil
	}
	p.mu.Lock()
	p.devices = append(p.devices, dev)
	p.mu.Unlock()
	p.logger.Debug("Media device claimed", "device", dev.String())
	return dev
}

// ReleaseMediaDevice gives up a device claimed by AcquireMediaDevice, for
// use when Match fails after claiming.
func (p *PipelineBase) ReleaseMediaDevice(dev *media.Device) {
	p.mu.Lock()
	if i := slices.Index(p.devices, dev); i >= 0 {
		p.devices = slices.Delete(p.devices, i, i+1)
	}
	p.mu.Unlock()
	dev.Release()
}

// RegisterCamera publishes cam, backed by dev, to the manager.
func (p *PipelineBase) RegisterCamera(cam *Camera, dev *media.Device) error {
	cam.device = dev
	if err := p.manager.addCamera(cam); err != nil {
		return err
	}
	p.mu.Lock()
	p.cameras = append(p.cameras, cam)
	p.mu.Unlock()
	return nil
}

// Cameras returns the cameras registered by the handler.
func (p *PipelineBase) Cameras() []*Camera {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.cameras)
}

// RemoveCamera drops cam and releases its media device. Handlers owning
// per-camera resources override it and call it last.
func (p *PipelineBase) RemoveCamera(cam *Camera) {
	p.mu.Lock()
	if i := slices.Index(p.cameras, cam); i >= 0 {
		p.cameras = slices.Delete(p.cameras, i, i+1)
	}
	p.mu.Unlock()
	if cam.device != nil {
		p.ReleaseMediaDevice(cam.device)
	}
}

// CompleteBuffer marks buf as filled within req. It reports false for a
// buffer that was not pending, which makes repeated notifications harmless.
func (p *PipelineBase) CompleteBuffer(req *Request, buf *FrameBuffer) bool {
	if req == nil {
		return false
	}
	return req.camera.completeBuffer(req, buf)
}

// CompleteRequest signals req once all its buffers completed. Requests are
// signalled in queueing order and at most once.
func (p *PipelineBase) CompleteRequest(req *Request) {
	if req == nil {
		return
	}
	req.camera.completeRequest(req)
}

// Close releases the claimed media devices.
func (p *PipelineBase) Close() error {
	p.mu.Lock()
	devices := p.devices
	p.devices = nil
	p.cameras = nil
	p.mu.Unlock()

	for _, dev := range devices {
		dev.Release()
	}
	return nil
}

// HandlerFactory creates a pipeline handler for a manager session.
type HandlerFactory struct {
	Name string
	New  func(m *Manager) PipelineHandler
}

var registry struct {
	mu        sync.Mutex
	factories []HandlerFactory
}

// RegisterPipelineHandler makes a handler available to managers created
// without an explicit handler list. It panics on duplicate names.
func RegisterPipelineHandler(name string, newFn func(m *Manager) PipelineHandler) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for _, f := range registry.factories {
		if f.Name == name {
			panic(fmt.Sprintf("camera: pipeline handler %q registered twice", name))
		}
	}
	registry.factories = append(registry.factories, HandlerFactory{Name: name, New: newFn})
}

// PipelineHandlers returns the registered handler factories.
func PipelineHandlers() []HandlerFactory {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return slices.Clone(registry.factories)
}

// ErrNoHandlers is returned by Manager.Start when no handler is available.
var ErrNoHandlers = errors.New("camera: no pipeline handlers")
