//go:build linux

// Package vivid drives the capture node of the kernel's virtual video test
// driver.
package vivid

import (
	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/capture"
	"github.com/smazurov/camkit/internal/media"
	"github.com/smazurov/camkit/internal/pipeline"
)

const (
	// Driver is the kernel driver name of vivid media devices.
	Driver = "vivid"
	// Entity is the capture node entity of the first vivid instance.
	Entity = "vivid-000-vid-cap"
)

func init() {
	camera.RegisterPipelineHandler(Driver, func(m *camera.Manager) camera.PipelineHandler {
		return New(m)
	})
}

// Handler is the vivid pipeline handler.
type Handler struct {
	*pipeline.SingleStream

	open func(path string) (capture.Node, error)
}

// New creates a vivid handler for m.
func New(m *camera.Manager) *Handler {
	return &Handler{
		SingleStream: pipeline.NewSingleStream(Driver, m, camera.BGR888, camera.Size{Width: 1280, Height: 720}),
		open:         capture.Open,
	}
}

// Match claims a vivid media device and registers a camera for its capture
// node. The camera is named after the node entity.
func (h *Handler) Match(enum *media.Enumerator) bool {
	dev := h.AcquireMediaDevice(enum, media.NewDeviceMatch(Driver, Entity))
	if dev == nil {
		return false
	}
	entity, _ := dev.Entity(Entity)

	node, err := h.open(entity.DeviceNode)
	if err != nil {
		h.Logger().Warn("Failed to open capture node", "node", entity.DeviceNode, "error", err)
		h.ReleaseMediaDevice(dev)
		return false
	}
	if _, err := h.RegisterNode(h, entity.Name, dev, node, dev.Model); err != nil {
		h.Logger().Warn("Failed to register camera", "node", entity.DeviceNode, "error", err)
		_ = node.Close()
		h.ReleaseMediaDevice(dev)
		return false
	}
	return true
}
