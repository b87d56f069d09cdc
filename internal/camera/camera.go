package camera

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/internal/media"
)

// State is the application-visible lifecycle state of a Camera.
type State int

// Camera states.
const (
	StateAvailable State = iota
	StateAcquired
	StateConfigured
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateAcquired:
		return "acquired"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Camera is a capture device registered by a pipeline handler. Its
// operations are meant to be called from the goroutine driving the
// manager's event loop; state queries are safe from any goroutine.
type Camera struct {
	id         string
	handler    PipelineHandler
	data       any
	streams    []*Stream
	controls   ControlInfoMap
	properties *ControlList
	logger     *slog.Logger

	// Set on registration.
	manager *Manager
	device  *media.Device

	nextRequest atomic.Uint64

	mu           sync.Mutex
	state        State
	disconnected bool
	active       map[*Stream]bool
	queued       []*Request

	requestDone  listeners[func(*Request)]
	bufferDone   listeners[func(*Request, *FrameBuffer)]
	disconnectCb listeners[func()]
}

// NewCamera creates a camera for handler. data is private handler state,
// available through Data.
func NewCamera(handler PipelineHandler, id string, streams []*Stream, data any) *Camera {
	return &Camera{
		id:         id,
		handler:    handler,
		data:       data,
		streams:    streams,
		controls:   ControlInfoMap{},
		properties: NewControlList(),
		logger:     logging.GetLogger("camera").With("camera", id),
	}
}

// ID returns the unique camera name.
func (c *Camera) ID() string { return c.id }

// Data returns the handler private data given to NewCamera.
func (c *Camera) Data() any { return c.data }

// Handler returns the pipeline handler that created the camera.
func (c *Camera) Handler() PipelineHandler { return c.handler }

// Streams returns the camera outputs.
func (c *Camera) Streams() []*Stream { return c.streams }

// Controls returns the controls requests may carry.
func (c *Camera) Controls() ControlInfoMap { return c.controls }

// SetControlInfo replaces the control set. Handlers call it before
// registering the camera.
func (c *Camera) SetControlInfo(m ControlInfoMap) { c.controls = m }

// Properties returns the static camera properties.
func (c *Camera) Properties() *ControlList { return c.properties }

// MediaDevice returns the claimed device backing the camera.
func (c *Camera) MediaDevice() *media.Device { return c.device }

// State returns the current state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disconnected reports whether the device has been unplugged.
func (c *Camera) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// QueuedRequests returns the number of requests waiting for completion.
func (c *Camera) QueuedRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queued)
}

// OnRequestCompleted registers fn to run once per completed request, in
// queueing order, on the event loop goroutine. The returned function
// unregisters it.
func (c *Camera) OnRequestCompleted(fn func(*Request)) func() {
	return c.requestDone.add(fn)
}

// OnBufferCompleted registers fn to run for every completed buffer.
func (c *Camera) OnBufferCompleted(fn func(*Request, *FrameBuffer)) func() {
	return c.bufferDone.add(fn)
}

// OnDisconnected registers fn to run when the device goes away.
func (c *Camera) OnDisconnected(fn func()) func() {
	return c.disconnectCb.add(fn)
}

// checkState returns an error unless the camera is connected and in one of
// the allowed states. Caller holds c.mu.
func (c *Camera) checkState(op string, allowed ...State) error {
	if c.disconnected {
		return fmt.Errorf("%s %s: %w", op, c.id, ErrNoDevice)
	}
	if !slices.Contains(allowed, c.state) {
		return fmt.Errorf("%s %s in state %s: %w", op, c.id, c.state, ErrInvalidState)
	}
	return nil
}

func (c *Camera) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()

	if old != s {
		c.logger.Debug("State changed", "from", old, "to", s)
		c.manager.publishStateChange(c, old, s)
	}
}

// Acquire claims the camera for exclusive use.
func (c *Camera) Acquire() error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return fmt.Errorf("acquire %s: %w", c.id, ErrNoDevice)
	}
	if c.state != StateAvailable {
		c.mu.Unlock()
		return fmt.Errorf("acquire %s: %w", c.id, ErrBusy)
	}
	c.mu.Unlock()

	c.setState(StateAcquired)
	return nil
}

// Release gives the camera up. A running camera must be stopped first.
func (c *Camera) Release() error {
	c.mu.Lock()
	switch c.state {
	case StateAvailable:
		c.mu.Unlock()
		return nil
	case StateRunning:
		c.mu.Unlock()
		return fmt.Errorf("release %s: %w", c.id, ErrBusy)
	}
	c.active = nil
	c.mu.Unlock()

	c.setState(StateAvailable)
	return nil
}

// GenerateConfiguration returns a default configuration for roles. An empty
// role list yields an empty configuration to be filled by the caller.
func (c *Camera) GenerateConfiguration(roles ...StreamRole) (*Configuration, error) {
	if c.Disconnected() {
		return nil, fmt.Errorf("generate configuration %s: %w", c.id, ErrNoDevice)
	}
	return c.handler.GenerateConfiguration(c, roles)
}

// Configure commits cfg to the device. cfg must validate as Valid. A
// running camera is rejected with ErrInvalidState.
func (c *Camera) Configure(cfg *Configuration) error {
	c.mu.Lock()
	err := c.checkState("configure", StateAcquired, StateConfigured)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if cfg == nil || cfg.Empty() {
		return fmt.Errorf("configure %s: empty configuration: %w", c.id, ErrInvalidConfiguration)
	}
	if status := cfg.Validate(); status != Valid {
		return fmt.Errorf("configure %s: configuration %s: %w", c.id, status, ErrInvalidConfiguration)
	}

	if err := c.handler.Configure(c, cfg); err != nil {
		return fmt.Errorf("configure %s: %w", c.id, err)
	}

	active := make(map[*Stream]bool, cfg.Len())
	for i := range cfg.Len() {
		sc := cfg.At(i)
		s := sc.Stream()
		if s == nil {
			return fmt.Errorf("configure %s: stream %d not bound by handler: %w", c.id, i, ErrInvalidConfiguration)
		}
		s.config = *sc
		active[s] = true
		c.logger.Info("Stream configured", "stream", s.Index(), "config", sc.String(),
			"stride", sc.Stride, "frame_size", sc.FrameSize, "buffers", sc.BufferCount)
	}

	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
	c.setState(StateConfigured)
	return nil
}

// IsActive reports whether s is part of the committed configuration.
func (c *Camera) IsActive(s *Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[s]
}

// CreateRequest returns a new request carrying cookie.
func (c *Camera) CreateRequest(cookie uint64) (*Request, error) {
	c.mu.Lock()
	err := c.checkState("create request", StateConfigured, StateRunning)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return newRequest(c, c.nextRequest.Add(1), cookie), nil
}

// Start begins streaming.
func (c *Camera) Start() error {
	c.mu.Lock()
	err := c.checkState("start", StateConfigured)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.handler.Start(c); err != nil {
		return fmt.Errorf("start %s: %w", c.id, err)
	}
	c.setState(StateRunning)
	c.logger.Info("Camera started")
	return nil
}

// Stop ends streaming. Requests still queued complete as Cancelled, in
// order, before Stop returns. Stopping a camera that is not running does
// nothing.
func (c *Camera) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Leave Running first so that no request is queued while stopping
	c.setState(StateConfigured)
	err := c.handler.Stop(c)
	c.cancelQueued()
	c.logger.Info("Camera stopped")
	if err != nil {
		return fmt.Errorf("stop %s: %w", c.id, err)
	}
	return nil
}

// QueueRequest submits req. On error the request is not queued; errors for
// which IsTransient reports true may be retried.
func (c *Camera) QueueRequest(req *Request) error {
	if req == nil {
		return fmt.Errorf("queue request: nil request: %w", ErrInvalidArgument)
	}

	c.mu.Lock()
	if err := c.checkState("queue request", StateRunning); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.checkRequest(req); err != nil {
		c.mu.Unlock()
		return err
	}
	req.prepare()
	c.queued = append(c.queued, req)
	c.mu.Unlock()

	if err := c.handler.QueueRequestDevice(c, req); err != nil {
		c.mu.Lock()
		if i := slices.Index(c.queued, req); i >= 0 {
			c.queued = slices.Delete(c.queued, i, i+1)
		}
		req.queued = false
		req.pending = nil
		c.mu.Unlock()
		return fmt.Errorf("queue request %d: %w", req.id, err)
	}
	return nil
}

// checkRequest validates req against the active streams. Caller holds c.mu.
func (c *Camera) checkRequest(req *Request) error {
	if req.camera != c {
		return fmt.Errorf("queue request %d: request belongs to another camera: %w", req.id, ErrInvalidArgument)
	}
	if req.queued {
		return fmt.Errorf("queue request %d: already queued: %w", req.id, ErrBusy)
	}
	if req.status != RequestPending {
		return fmt.Errorf("queue request %d: status %s, reuse it first: %w", req.id, req.status, ErrInvalidArgument)
	}
	if len(req.buffers) == 0 {
		return fmt.Errorf("queue request %d: no buffers: %w", req.id, ErrInvalidArgument)
	}
	for _, sb := range req.buffers {
		if !c.active[sb.stream] {
			return fmt.Errorf("queue request %d: stream %d not configured: %w", req.id, sb.stream.Index(), ErrInvalidArgument)
		}
	}
	return nil
}

func (c *Camera) completeBuffer(req *Request, buf *FrameBuffer) bool {
	c.mu.Lock()
	ok := req.queued && req.completeBuffer(buf)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.bufferDone.each(func(fn func(*Request, *FrameBuffer)) { fn(req, buf) })
	return true
}

// completeRequest marks req done and signals every request at the head of
// the queue that is done, preserving queueing order.
func (c *Camera) completeRequest(req *Request) {
	c.mu.Lock()
	if !req.queued || req.done {
		c.mu.Unlock()
		return
	}
	if req.HasPendingBuffers() {
		c.mu.Unlock()
		c.logger.Warn("Request completed with pending buffers", "request", req.id)
		return
	}
	req.done = true
	ready := c.popDone()
	c.mu.Unlock()

	c.signal(ready)
}

// popDone removes the completed requests at the head of the queue. Caller
// holds c.mu.
func (c *Camera) popDone() []*Request {
	var ready []*Request
	for len(c.queued) > 0 && c.queued[0].done {
		r := c.queued[0]
		c.queued = c.queued[1:]
		r.queued = false
		if r.cancel {
			r.status = RequestCancelled
		} else {
			r.status = RequestComplete
		}
		ready = append(ready, r)
	}
	return ready
}

func (c *Camera) signal(reqs []*Request) {
	for _, r := range reqs {
		c.requestDone.each(func(fn func(*Request)) { fn(r) })
		c.manager.publishRequest(c, r)
	}
}

// cancelQueued completes every request left in the queue as Cancelled.
func (c *Camera) cancelQueued() {
	c.mu.Lock()
	for _, r := range c.queued {
		for buf := range r.pending {
			buf.Cancel()
		}
		if len(r.pending) > 0 || !r.done {
			r.cancel = true
		}
		r.pending = nil
		r.done = true
	}
	ready := c.popDone()
	c.mu.Unlock()

	if len(ready) > 0 {
		c.logger.Debug("Cancelled queued requests", "count", len(ready))
	}
	c.signal(ready)
}

// disconnect stops the camera and refuses further use.
func (c *Camera) disconnect() {
	c.logger.Info("Camera disconnected")
	if err := c.Stop(); err != nil {
		c.logger.Warn("Failed to stop disconnected camera", "error", err)
	}
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.disconnectCb.each(func(fn func()) { fn() })
}

func (c *Camera) String() string {
	return fmt.Sprintf("Camera(%s)", c.id)
}
