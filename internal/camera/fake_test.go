package camera

import (
	"github.com/smazurov/camkit/internal/media"
)

var fakeFormats = NewStreamFormats(
	FormatSizes{Format: BGR888, Sizes: []SizeRange{
		DiscreteRange(Size{640, 480}),
		DiscreteRange(Size{1280, 720}),
	}},
	FormatSizes{Format: YUYV, Sizes: []SizeRange{
		{Min: Size{320, 240}, Max: Size{1920, 1080}, HStep: 16, VStep: 8},
	}},
)

// fakeHandler is a single-stream handler whose device completes buffers
// only when the test says so.
type fakeHandler struct {
	*PipelineBase
	entity string

	// negotiate rewrites the configuration the device accepts.
	negotiate func(sc StreamConfiguration) StreamConfiguration
	startErr  error
	queueErr  error

	stream   *Stream
	queued   []*Request
	starts   int
	stops    int
	removed  []*Camera
	exported int
}

func newFakeHandler(m *Manager) *fakeHandler {
	return &fakeHandler{PipelineBase: NewPipelineBase("fake", m), entity: "fake-cap", stream: NewStream(0)}
}

func fakeValidate(cfg *Configuration) Status {
	status := Valid
	if cfg.Len() > 1 {
		cfg.Truncate(1)
		status = Adjusted
	}
	sc := cfg.At(0)
	if AdjustStreamConfiguration(sc, fakeFormats) {
		status = Adjusted
	}
	if sc.BufferCount != 4 {
		sc.BufferCount = 4
		status = Adjusted
	}
	return status
}

func (h *fakeHandler) Match(enum *media.Enumerator) bool {
	dev := h.AcquireMediaDevice(enum, media.NewDeviceMatch("fake", h.entity))
	if dev == nil {
		return false
	}
	cam := NewCamera(h, dev.BusInfo, []*Stream{h.stream}, nil)
	if err := h.RegisterCamera(cam, dev); err != nil {
		h.ReleaseMediaDevice(dev)
		return false
	}
	return true
}

func (h *fakeHandler) GenerateConfiguration(_ *Camera, roles []StreamRole) (*Configuration, error) {
	cfg := NewConfiguration(ValidatorFunc(fakeValidate))
	if len(roles) == 0 {
		return cfg, nil
	}
	sc := NewStreamConfiguration(fakeFormats)
	sc.PixelFormat = BGR888
	sc.Size = Size{1280, 720}
	sc.BufferCount = 4
	cfg.AddConfiguration(sc)
	cfg.Validate()
	return cfg, nil
}

func (h *fakeHandler) Configure(_ *Camera, cfg *Configuration) error {
	sc := cfg.At(0)
	got := *sc
	if h.negotiate != nil {
		got = h.negotiate(got)
	}
	if got.Size != sc.Size || got.PixelFormat != sc.PixelFormat {
		return ErrFormatMismatch
	}
	sc.Stride = sc.PixelFormat.MinStride(sc.Size.Width)
	sc.FrameSize = sc.PixelFormat.FrameSize(sc.Size, sc.Stride)
	sc.SetStream(h.stream)
	return nil
}

func (h *fakeHandler) ExportFrameBuffers(_ *Camera, s *Stream) ([]*FrameBuffer, error) {
	n := int(s.Configuration().BufferCount)
	bufs := make([]*FrameBuffer, n)
	for i := range bufs {
		bufs[i] = NewFrameBuffer([]Plane{{Fd: -1, Length: s.Configuration().FrameSize}}, uint64(i))
	}
	h.exported += n
	return bufs, nil
}

func (h *fakeHandler) Start(*Camera) error {
	if h.startErr != nil {
		return h.startErr
	}
	h.starts++
	return nil
}

func (h *fakeHandler) Stop(*Camera) error {
	h.stops++
	h.queued = nil
	return nil
}

func (h *fakeHandler) QueueRequestDevice(_ *Camera, req *Request) error {
	if h.queueErr != nil {
		return h.queueErr
	}
	h.queued = append(h.queued, req)
	return nil
}

func (h *fakeHandler) RemoveCamera(cam *Camera) {
	h.removed = append(h.removed, cam)
	h.PipelineBase.RemoveCamera(cam)
}

// fill completes the buffers of req as a device would.
func (h *fakeHandler) fill(req *Request, status FrameStatus, seq uint32) {
	for _, s := range req.Streams() {
		buf := req.Buffer(s)
		buf.SetMetadata(FrameMetadata{Status: status, Sequence: seq, Planes: []PlaneMetadata{{BytesUsed: 100}}})
		h.CompleteBuffer(req, buf)
	}
	if !req.HasPendingBuffers() {
		h.CompleteRequest(req)
	}
}

func fakeFactory(h **fakeHandler) HandlerFactory {
	return HandlerFactory{Name: "fake", New: func(m *Manager) PipelineHandler {
		*h = newFakeHandler(m)
		return *h
	}}
}

var fakeDevice = media.DeviceInfo{
	Driver:   "fake",
	Model:    "Fake Camera",
	BusInfo:  "platform:fake-000",
	Entities: []media.Entity{{Name: "fake-cap", DeviceNode: "/dev/null"}},
}
