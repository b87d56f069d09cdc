//go:build linux

package vivid

import (
	"errors"
	"testing"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/capture"
	"github.com/smazurov/camkit/internal/media"
	"github.com/smazurov/camkit/internal/pipeline"
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

var vividDevice = media.DeviceInfo{
	Driver:  Driver,
	Model:   "vivid",
	BusInfo: "platform:vivid-000",
	Entities: []media.Entity{
		{Name: Entity, DeviceNode: "/dev/video0"},
		{Name: "vivid-000-vid-out", DeviceNode: "/dev/video1"},
	},
}

var vividFormats = []camera.FormatSizes{
	{Format: camera.YUYV, Sizes: []camera.SizeRange{{
		Min: camera.Size{Width: 16, Height: 16}, Max: camera.Size{Width: 1920, Height: 1080},
		HStep: 2, VStep: 2,
	}}},
	{Format: camera.BGR888, Sizes: []camera.SizeRange{
		camera.DiscreteRange(camera.Size{Width: 640, Height: 360}),
		camera.DiscreteRange(camera.Size{Width: 1280, Height: 720}),
		camera.DiscreteRange(camera.Size{Width: 1920, Height: 1080}),
	}},
}

type rig struct {
	m     *camera.Manager
	h     *Handler
	nodes map[string]*capture.SoftwareNode
}

func newRig(t *testing.T, openErr error, devices ...media.DeviceInfo) *rig {
	t.Helper()
	r := &rig{nodes: make(map[string]*capture.SoftwareNode)}
	r.m = camera.NewManager(camera.Options{
		Sources: []media.Source{media.StaticSource(devices)},
		Handlers: []camera.HandlerFactory{{Name: Driver, New: func(m *camera.Manager) camera.PipelineHandler {
			r.h = New(m)
			r.h.open = func(path string) (capture.Node, error) {
				if openErr != nil {
					return nil, openErr
				}
				n, err := capture.NewSoftwareNode(path, vividFormats...)
				if err != nil {
					return nil, err
				}
				n.SetStrideAlign(64)
				r.nodes[path] = n
				return n, nil
			}
			return r.h
		}}},
	})
	if err := r.m.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.m.Stop() })
	return r
}

// running acquires, configures and starts the only camera.
func (r *rig) running(t *testing.T) (*camera.Camera, *camera.Stream, []*camera.FrameBuffer) {
	t.Helper()
	cam := r.m.Get(Entity)
	if cam == nil {
		t.Fatal("vivid camera not registered")
	}
	if err := cam.Acquire(); err != nil {
		t.Fatal(err)
	}
	cfg, _ := cam.GenerateConfiguration(camera.RoleVideoRecording)
	if err := cam.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	stream := cfg.At(0).Stream()
	alloc := camera.NewFrameBufferAllocator(cam)
	if _, err := alloc.Allocate(stream); err != nil {
		t.Fatal(err)
	}
	if err := cam.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = cam.Stop()
		_ = alloc.Free(stream)
	})
	return cam, stream, alloc.Buffers(stream)
}

func (r *rig) frame(t *testing.T) {
	t.Helper()
	if !r.nodes["/dev/video0"].Tick() {
		t.Fatal("no buffer queued on the node")
	}
	if err := r.m.ProcessEvents(); err != nil {
		t.Fatal(err)
	}
}

func TestMatch(t *testing.T) {
	other := vividDevice
	other.BusInfo = "platform:vivid-001"
	other.Entities = []media.Entity{{Name: "vivid-001-vid-cap", DeviceNode: "/dev/video2"}}
	uvc := media.DeviceInfo{Driver: "uvcvideo", BusInfo: "usb-1", Entities: []media.Entity{{Name: Entity, DeviceNode: "/dev/video4"}}}

	r := newRig(t, nil, vividDevice, other, uvc)

	cams := r.m.Cameras()
	if len(cams) != 1 || cams[0].ID() != Entity {
		t.Fatalf("registered %v, want only %s", cams, Entity)
	}
	if _, ok := r.nodes["/dev/video0"]; !ok || len(r.nodes) != 1 {
		t.Errorf("opened nodes %v", r.nodes)
	}
	size, ok := cams[0].Properties().Get(camera.PropertyPixelArraySize)
	if !ok || size.Size() != (camera.Size{Width: 1920, Height: 1080}) {
		t.Errorf("pixel array size = %v", size)
	}
}

func TestMatchOpenFailureReleasesDevice(t *testing.T) {
	r := newRig(t, unix.ENOENT, vividDevice)
	if n := len(r.m.Cameras()); n != 0 {
		t.Fatalf("%d cameras registered", n)
	}
	for _, dev := range r.m.Enumerator().Devices() {
		if dev.Acquired() {
			t.Errorf("%s still claimed", dev)
		}
	}
}

func TestConfigureScenario(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam := r.m.Get(Entity)
	_ = cam.Acquire()

	cfg, err := cam.GenerateConfiguration(camera.RoleViewfinder)
	if err != nil {
		t.Fatal(err)
	}
	if st := cfg.Validate(); st != camera.Valid {
		t.Fatalf("Validate() = %v", st)
	}
	if err := cam.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	sc := cfg.At(0)
	if sc.Size != (camera.Size{Width: 1280, Height: 720}) || sc.PixelFormat != camera.BGR888 {
		t.Errorf("configured %s", sc)
	}
	if sc.Stride < 3840 || sc.Stride%64 != 0 {
		t.Errorf("stride = %d", sc.Stride)
	}
	if sc.FrameSize != sc.Stride*720 {
		t.Errorf("frame size = %d", sc.FrameSize)
	}
	if got := r.nodes["/dev/video0"]; got == nil {
		t.Fatal("node not opened")
	} else if pf, _ := got.GetFormat(); pf.Width != 1280 || pf.PixelFormat != uint32(camera.BGR888) {
		t.Errorf("node format = %+v", pf)
	}
}

func TestValidateSnapsOntoNode(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam := r.m.Get(Entity)

	tests := []struct {
		name   string
		format camera.PixelFormat
		size   camera.Size
		want   camera.Size
	}{
		{"odd yuyv size", camera.YUYV, camera.Size{Width: 641, Height: 479}, camera.Size{Width: 642, Height: 480}},
		{"unsupported format", camera.NV12, camera.Size{Width: 640, Height: 360}, camera.Size{Width: 640, Height: 360}},
		{"too large", camera.BGR888, camera.Size{Width: 4096, Height: 2160}, camera.Size{Width: 1920, Height: 1080}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := cam.GenerateConfiguration(camera.RoleRaw)
			cfg.At(0).PixelFormat = tt.format
			cfg.At(0).Size = tt.size
			if st := cfg.Validate(); st != camera.Adjusted {
				t.Fatalf("Validate() = %v, want adjusted", st)
			}
			if cfg.At(0).Size != tt.want {
				t.Errorf("size = %s, want %s", cfg.At(0).Size, tt.want)
			}
			if !cfg.At(0).Formats().Supports(cfg.At(0).PixelFormat) {
				t.Errorf("adjusted to unsupported %s", cfg.At(0).PixelFormat)
			}
		})
	}
}

func TestFramesCompleteInOrder(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam, stream, bufs := r.running(t)

	var done []*camera.Request
	cam.OnRequestCompleted(func(req *camera.Request) { done = append(done, req) })
	for i := range 3 {
		req, _ := cam.CreateRequest(uint64(10 + i))
		_ = req.AddBuffer(stream, bufs[i])
		if err := cam.QueueRequest(req); err != nil {
			t.Fatal(err)
		}
	}
	for range 3 {
		r.frame(t)
	}

	if len(done) != 3 {
		t.Fatalf("%d requests completed, want 3", len(done))
	}
	for i, req := range done {
		if req.Cookie() != uint64(10+i) || req.Status() != camera.RequestComplete {
			t.Errorf("completion %d: cookie %d status %v", i, req.Cookie(), req.Status())
		}
		seq, _ := req.Metadata().Get(camera.SensorSequence)
		if seq.Int32() != int32(i) {
			t.Errorf("completion %d: sequence %d", i, seq.Int32())
		}
	}
	if cam.QueuedRequests() != 0 {
		t.Errorf("%d requests still queued", cam.QueuedRequests())
	}
}

func TestBufferReuseAcrossRequests(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam, stream, bufs := r.running(t)

	var done int
	cam.OnRequestCompleted(func(*camera.Request) { done++ })
	req, _ := cam.CreateRequest(0)
	_ = req.AddBuffer(stream, bufs[0])

	for i := range 6 {
		if err := cam.QueueRequest(req); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		r.frame(t)
		if err := req.Reuse(camera.ReuseBuffers); err != nil {
			t.Fatal(err)
		}
	}
	if done != 6 {
		t.Errorf("%d completions, want 6", done)
	}
}

func TestStartFailureReleasesBuffers(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam := r.m.Get(Entity)
	_ = cam.Acquire()
	cfg, _ := cam.GenerateConfiguration(camera.RoleViewfinder)
	_ = cam.Configure(cfg)
	alloc := camera.NewFrameBufferAllocator(cam)
	if _, err := alloc.Allocate(cfg.At(0).Stream()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = alloc.Free(cfg.At(0).Stream()) }()

	r.nodes["/dev/video0"].FailStreamOn(unix.EPIPE)
	if err := cam.Start(); !errors.Is(err, unix.EPIPE) {
		t.Fatalf("Start() = %v, want EPIPE", err)
	}
	dev := cam.Data().(*pipeline.CameraData).Device
	if dev.HeldBuffers() != 0 || dev.Streaming() {
		t.Errorf("device holds %d buffers, streaming %v", dev.HeldBuffers(), dev.Streaming())
	}
	if cam.State() != camera.StateConfigured {
		t.Errorf("state = %v", cam.State())
	}
}

func TestStopCancelsAndIsIdempotent(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam, stream, bufs := r.running(t)

	var statuses []camera.RequestStatus
	cam.OnRequestCompleted(func(req *camera.Request) { statuses = append(statuses, req.Status()) })
	for i := range 3 {
		req, _ := cam.CreateRequest(uint64(i))
		_ = req.AddBuffer(stream, bufs[i])
		_ = cam.QueueRequest(req)
	}
	r.frame(t)

	if err := cam.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := cam.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
	want := []camera.RequestStatus{camera.RequestComplete, camera.RequestCancelled, camera.RequestCancelled}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("request %d = %v, want %v", i, statuses[i], want[i])
		}
	}
	if r.nodes["/dev/video0"].Streaming() {
		t.Error("node still streaming")
	}
}

func TestControlsApplied(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam, stream, bufs := r.running(t)

	if _, _, ok := cam.Controls().Find("Saturation"); !ok {
		t.Fatal("saturation not exposed")
	}
	req, _ := cam.CreateRequest(0)
	_ = req.AddBuffer(stream, bufs[0])
	_ = req.Controls().Set(camera.Brightness, camera.NewFloatValue(-1))
	_ = req.Controls().Set(camera.Saturation, camera.NewFloatValue(0))
	if err := cam.QueueRequest(req); err != nil {
		t.Fatal(err)
	}

	node := r.nodes["/dev/video0"]
	if v, _ := node.GetControl(v4l2.CidBrightness); v != 0 {
		t.Errorf("brightness = %d, want 0", v)
	}
	if v, _ := node.GetControl(v4l2.CidSaturation); v != 0 {
		t.Errorf("saturation = %d, want 0", v)
	}
	if v, _ := node.GetControl(v4l2.CidContrast); v != 128 {
		t.Errorf("untouched contrast = %d, want 128", v)
	}
}

func TestExportForeignStream(t *testing.T) {
	r := newRig(t, nil, vividDevice)
	cam := r.m.Get(Entity)
	if _, err := r.h.ExportFrameBuffers(cam, camera.NewStream(1)); !errors.Is(err, camera.ErrInvalidArgument) {
		t.Errorf("ExportFrameBuffers() = %v, want ErrInvalidArgument", err)
	}
}
