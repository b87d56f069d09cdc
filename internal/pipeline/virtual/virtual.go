//go:build linux

// Package virtual provides software cameras that need no hardware. Each
// camera is a capture.SoftwareNode ticked by a dispatcher timer.
package virtual

import (
	"fmt"
	"time"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/capture"
	"github.com/smazurov/camkit/internal/dispatcher"
	"github.com/smazurov/camkit/internal/media"
	"github.com/smazurov/camkit/internal/pipeline"
)

// Driver is the driver name of virtual media devices.
const Driver = "virtual"

// Config describes the virtual cameras.
type Config struct {
	Count    int
	Formats  []camera.PixelFormat
	Sizes    []camera.Size
	Interval time.Duration
}

// DefaultConfig is one camera producing BGR888 or YUYV at 30 frames per
// second.
func DefaultConfig() Config {
	return Config{
		Count:    1,
		Formats:  []camera.PixelFormat{camera.BGR888, camera.YUYV},
		Sizes:    []camera.Size{{Width: 640, Height: 480}, {Width: 1280, Height: 720}, {Width: 1920, Height: 1080}},
		Interval: 33 * time.Millisecond,
	}
}

// ParseConfig builds a Config from format and size names. Empty lists and
// a zero interval take the defaults.
func ParseConfig(count int, formats, sizes []string, interval time.Duration) (Config, error) {
	cfg := DefaultConfig()
	cfg.Count = count
	if interval > 0 {
		cfg.Interval = interval
	}
	if len(formats) > 0 {
		cfg.Formats = nil
		for _, s := range formats {
			pf, err := camera.ParsePixelFormat(s)
			if err != nil {
				return Config{}, err
			}
			cfg.Formats = append(cfg.Formats, pf)
		}
	}
	if len(sizes) > 0 {
		cfg.Sizes = nil
		for _, s := range sizes {
			sz, err := camera.ParseSize(s)
			if err != nil {
				return Config{}, err
			}
			cfg.Sizes = append(cfg.Sizes, sz)
		}
	}
	return cfg, nil
}

func (c Config) formatSizes() []camera.FormatSizes {
	out := make([]camera.FormatSizes, len(c.Formats))
	for i, pf := range c.Formats {
		out[i].Format = pf
		for _, s := range c.Sizes {
			out[i].Sizes = append(out[i].Sizes, camera.DiscreteRange(s))
		}
	}
	return out
}

// Source advertises Count virtual media devices.
type Source Config

// Devices implements media.Source.
func (s Source) Devices() ([]media.DeviceInfo, error) {
	out := make([]media.DeviceInfo, s.Count)
	for i := range out {
		out[i] = media.DeviceInfo{
			Driver:  Driver,
			Model:   "Virtual Camera",
			BusInfo: fmt.Sprintf("virtual:%03d", i),
			Entities: []media.Entity{{
				Name:       fmt.Sprintf("virtual-%03d-vid-cap", i),
				DeviceNode: fmt.Sprintf("virtual:%03d", i),
			}},
		}
	}
	return out, nil
}

// Factory returns a handler factory for cameras described by cfg.
func Factory(cfg Config) camera.HandlerFactory {
	return camera.HandlerFactory{Name: Driver, New: func(m *camera.Manager) camera.PipelineHandler {
		return New(m, cfg)
	}}
}

// Handler is the virtual pipeline handler.
type Handler struct {
	*pipeline.SingleStream

	cfg   Config
	nodes map[string]*capture.SoftwareNode
}

// New creates a virtual handler for m. Zero fields of cfg take the
// defaults.
func New(m *camera.Manager, cfg Config) *Handler {
	def := DefaultConfig()
	if len(cfg.Formats) == 0 {
		cfg.Formats = def.Formats
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = def.Sizes
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Handler{
		SingleStream: pipeline.NewSingleStream(Driver, m, camera.BGR888, camera.Size{Width: 1280, Height: 720}),
		cfg:          cfg,
		nodes:        make(map[string]*capture.SoftwareNode),
	}
}

// Node returns the software node of a camera, or nil.
func (h *Handler) Node(cameraID string) *capture.SoftwareNode {
	return h.nodes[cameraID]
}

// Match claims a virtual media device and registers a camera for it.
func (h *Handler) Match(enum *media.Enumerator) bool {
	dev := h.AcquireMediaDevice(enum, media.NewDeviceMatch(Driver))
	if dev == nil {
		return false
	}
	if len(dev.Entities) == 0 {
		h.ReleaseMediaDevice(dev)
		return false
	}
	entity := dev.Entities[0]

	node, err := capture.NewSoftwareNode(entity.DeviceNode, h.cfg.formatSizes()...)
	if err != nil {
		h.Logger().Warn("Failed to create software node", "entity", entity.Name, "error", err)
		h.ReleaseMediaDevice(dev)
		return false
	}
	data, err := h.RegisterNode(h, entity.Name, dev, node, dev.Model)
	if err != nil {
		h.Logger().Warn("Failed to register camera", "entity", entity.Name, "error", err)
		_ = node.Close()
		h.ReleaseMediaDevice(dev)
		return false
	}

	h.nodes[entity.Name] = node
	h.attachTicker(data, node)
	return true
}

// attachTicker fills one queued buffer per frame interval while the camera
// streams. Frames fall due even when no buffer is queued, as on a sensor.
func (h *Handler) attachTicker(data *pipeline.CameraData, node *capture.SoftwareNode) {
	var timer *dispatcher.Timer
	timer = dispatcher.NewTimer(func() {
		node.Tick()
		next := timer.Deadline().Add(h.cfg.Interval)
		if now := time.Now(); next.Before(now) {
			next = now
		}
		if err := h.Dispatcher().RegisterTimer(timer, next); err != nil {
			h.Logger().Warn("Failed to rearm frame timer", "camera", data.Camera().ID(), "error", err)
		}
	})
	data.OnStart = func() {
		if err := h.Dispatcher().RegisterTimer(timer, time.Now().Add(h.cfg.Interval)); err != nil {
			h.Logger().Warn("Failed to arm frame timer", "camera", data.Camera().ID(), "error", err)
		}
	}
	data.OnStop = func() {
		h.Dispatcher().UnregisterTimer(timer)
	}
}

// RemoveCamera forgets the node of a removed camera.
func (h *Handler) RemoveCamera(cam *camera.Camera) {
	delete(h.nodes, cam.ID())
	h.SingleStream.RemoveCamera(cam)
}
