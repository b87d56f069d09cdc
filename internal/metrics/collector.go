package metrics

import (
	"github.com/smazurov/camkit/internal/events"
)

// Collector updates the camera metrics from bus events.
type Collector struct {
	bus   *events.Bus
	unsub []func()
}

// NewCollector creates a collector for bus.
func NewCollector(bus *events.Bus) *Collector {
	return &Collector{bus: bus}
}

// Start subscribes to camera events.
func (c *Collector) Start() {
	c.unsub = append(c.unsub,
		c.bus.Subscribe(func(e events.CameraAddedEvent) { AddCamera(e.CameraID) }),
		c.bus.Subscribe(func(e events.CameraRemovedEvent) { RemoveCamera(e.CameraID) }),
		c.bus.Subscribe(func(e events.CameraStateChangedEvent) {
			SetRunning(e.CameraID, e.NewState == "running")
		}),
		c.bus.Subscribe(func(e events.RequestCompletedEvent) {
			RecordRequest(e.CameraID, e.Status)
			for _, f := range e.Frames {
				RecordFrame(e.CameraID, f.Status, f.BytesUsed)
			}
		}),
	)
}

// Stop unsubscribes from the bus.
func (c *Collector) Stop() {
	for _, fn := range c.unsub {
		fn()
	}
	c.unsub = nil
}
