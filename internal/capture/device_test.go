//go:build linux

package capture

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/dispatcher"
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

var testFormats = []camera.FormatSizes{
	{Format: camera.BGR888, Sizes: []camera.SizeRange{
		camera.DiscreteRange(camera.Size{Width: 640, Height: 480}),
		camera.DiscreteRange(camera.Size{Width: 1280, Height: 720}),
	}},
	{Format: camera.YUYV, Sizes: []camera.SizeRange{
		{Min: camera.Size{Width: 320, Height: 240}, Max: camera.Size{Width: 1920, Height: 1080}, HStep: 16, VStep: 8},
	}},
}

type testRig struct {
	node *SoftwareNode
	disp *dispatcher.Poll
	dev  *Device
	got  []*camera.FrameBuffer
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	node, err := NewSoftwareNode("soft0", testFormats...)
	if err != nil {
		t.Fatal(err)
	}
	disp, err := dispatcher.New()
	if err != nil {
		t.Fatal(err)
	}
	r := &testRig{node: node, disp: disp, dev: NewDevice(node, disp)}
	r.dev.BufferReady = func(b *camera.FrameBuffer) { r.got = append(r.got, b) }
	t.Cleanup(func() {
		_ = r.dev.Close()
		_ = disp.Close()
	})
	return r
}

// streaming sets 640x480 BGR888, exports count buffers, imports them back
// and starts streaming.
func (r *testRig) streaming(t *testing.T, count uint32) []*camera.FrameBuffer {
	t.Helper()
	if _, err := r.dev.SetFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: uint32(camera.BGR888)}); err != nil {
		t.Fatal(err)
	}
	bufs, err := r.dev.ExportBuffers(count)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, b := range bufs {
			_ = b.Close()
		}
	})
	if err := r.dev.ImportBuffers(count); err != nil {
		t.Fatal(err)
	}
	if err := r.dev.StreamOn(); err != nil {
		t.Fatal(err)
	}
	return bufs
}

// tick produces one frame and dispatches its completion.
func (r *testRig) tick(t *testing.T) {
	t.Helper()
	if !r.node.Tick() {
		t.Fatal("Tick() produced no frame")
	}
	if err := r.disp.ProcessEvents(); err != nil {
		t.Fatal(err)
	}
}

func TestSetFormatReadBack(t *testing.T) {
	tests := []struct {
		name       string
		req        v4l2.PixFormat
		align      uint32
		wantSize   camera.Size
		wantFormat camera.PixelFormat
		wantStride uint32
	}{
		{"exact", v4l2.PixFormat{Width: 1280, Height: 720, PixelFormat: uint32(camera.BGR888)}, 0,
			camera.Size{Width: 1280, Height: 720}, camera.BGR888, 3840},
		{"padded stride", v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: uint32(camera.BGR888)}, 256,
			camera.Size{Width: 640, Height: 480}, camera.BGR888, 2048},
		{"snapped size", v4l2.PixFormat{Width: 1000, Height: 700, PixelFormat: uint32(camera.YUYV)}, 0,
			camera.Size{Width: 1008, Height: 704}, camera.YUYV, 2016},
		{"unsupported format", v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: uint32(camera.NV12)}, 0,
			camera.Size{Width: 640, Height: 480}, camera.BGR888, 1920},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			r.node.SetStrideAlign(tt.align)
			got, err := r.dev.SetFormat(tt.req)
			if err != nil {
				t.Fatal(err)
			}
			size := camera.Size{Width: got.Width, Height: got.Height}
			if size != tt.wantSize || camera.PixelFormat(got.PixelFormat) != tt.wantFormat {
				t.Errorf("got %v-%v, want %v-%v", size, camera.PixelFormat(got.PixelFormat), tt.wantSize, tt.wantFormat)
			}
			if got.BytesPerLine != tt.wantStride {
				t.Errorf("stride = %d, want %d", got.BytesPerLine, tt.wantStride)
			}
			if got.SizeImage < got.BytesPerLine*got.Height {
				t.Errorf("size image %d smaller than stride*height", got.SizeImage)
			}
			if r.dev.Format() != got {
				t.Error("Format() does not return the negotiated format")
			}
		})
	}
}

func TestApplyFormat(t *testing.T) {
	sc := camera.NewStreamConfiguration(nil)
	sc.PixelFormat = camera.BGR888
	sc.Size = camera.Size{Width: 1280, Height: 720}

	got := PixFormat(sc)
	got.BytesPerLine, got.SizeImage = 3840, 3840*720
	if err := ApplyFormat(&sc, got); err != nil {
		t.Fatal(err)
	}
	if sc.Stride != 3840 || sc.FrameSize != 3840*720 {
		t.Errorf("stride=%d frame size=%d", sc.Stride, sc.FrameSize)
	}

	got.Height = 736
	if err := ApplyFormat(&sc, got); !errors.Is(err, camera.ErrFormatMismatch) {
		t.Errorf("ApplyFormat() = %v, want ErrFormatMismatch", err)
	}
}

func TestStreamFormatsFromNode(t *testing.T) {
	r := newTestRig(t)
	formats, err := StreamFormats(r.node, camera.SizeRange{})
	if err != nil {
		t.Fatal(err)
	}
	if got := formats.PixelFormats(); len(got) != 2 || got[0] != camera.BGR888 || got[1] != camera.YUYV {
		t.Errorf("formats = %v", got)
	}
	if got := formats.Range(camera.YUYV); got.HStep != 16 || got.Max != (camera.Size{Width: 1920, Height: 1080}) {
		t.Errorf("YUYV range = %v", got)
	}
	if got := formats.Sizes(camera.BGR888); len(got) != 2 {
		t.Errorf("BGR888 sizes = %v", got)
	}
}

// sizelessNode fails frame size enumeration for one format, as drivers
// without VIDIOC_ENUM_FRAMESIZES support do.
type sizelessNode struct {
	*SoftwareNode
	format camera.PixelFormat
}

func (n sizelessNode) FrameSizes(pixelFormat uint32) ([]v4l2.FrameSize, error) {
	if camera.PixelFormat(pixelFormat) == n.format {
		return nil, fmt.Errorf("VIDIOC_ENUM_FRAMESIZES: %w", unix.EINVAL)
	}
	return n.SoftwareNode.FrameSizes(pixelFormat)
}

func TestStreamFormatsWithoutFrameSizes(t *testing.T) {
	tests := []struct {
		name      string
		current   camera.PixelFormat
		fallback  camera.SizeRange
		wantBGR   bool
		wantSizes []camera.Size
	}{
		{
			name:      "current format size",
			current:   camera.BGR888,
			wantBGR:   true,
			wantSizes: []camera.Size{{Width: 1280, Height: 720}},
		},
		{
			name:    "not the current format",
			current: camera.YUYV,
		},
		{
			name:      "explicit fallback",
			current:   camera.YUYV,
			fallback:  camera.DiscreteRange(camera.Size{Width: 800, Height: 600}),
			wantBGR:   true,
			wantSizes: []camera.Size{{Width: 800, Height: 600}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			if _, err := r.node.SetFormat(v4l2.PixFormat{Width: 1280, Height: 720, PixelFormat: uint32(tt.current)}); err != nil {
				t.Fatal(err)
			}
			formats, err := StreamFormats(sizelessNode{r.node, camera.BGR888}, tt.fallback)
			if err != nil {
				t.Fatal(err)
			}
			if !formats.Supports(camera.YUYV) {
				t.Error("YUYV with frame sizes was dropped")
			}
			if formats.Supports(camera.BGR888) != tt.wantBGR {
				t.Fatalf("BGR888 listed = %v, want %v", !tt.wantBGR, tt.wantBGR)
			}
			if !tt.wantBGR {
				return
			}
			got := formats.Sizes(camera.BGR888)
			if len(got) != len(tt.wantSizes) || got[0] != tt.wantSizes[0] {
				t.Fatalf("BGR888 sizes = %v, want %v", got, tt.wantSizes)
			}

			sc := camera.NewStreamConfiguration(formats)
			sc.PixelFormat = camera.BGR888
			sc.Size = camera.Size{Width: 1920, Height: 1080}
			camera.AdjustStreamConfiguration(&sc, formats)
			if sc.Size != tt.wantSizes[0] {
				t.Errorf("adjusted size = %v, want %v", sc.Size, tt.wantSizes[0])
			}
		})
	}
}

func TestExportBuffers(t *testing.T) {
	r := newTestRig(t)
	pf, _ := r.dev.SetFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: uint32(camera.BGR888)})

	bufs, err := r.dev.ExportBuffers(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(bufs) != 4 {
		t.Fatalf("got %d buffers, want 4", len(bufs))
	}
	for i, b := range bufs {
		p := b.Planes()
		if len(p) != 1 || p[0].Fd < 0 || p[0].Length != pf.SizeImage {
			t.Errorf("buffer %d planes = %+v", i, p)
		}
	}
	if _, err := r.node.QueryBuffer(0); !errors.Is(err, unix.EINVAL) {
		t.Error("device still holds buffers after export")
	}
	if r.dev.HeldBuffers() != 0 {
		t.Errorf("HeldBuffers() = %d after export", r.dev.HeldBuffers())
	}
	for _, b := range bufs {
		if err := b.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	}
}

func TestBuffersCompleteInOrder(t *testing.T) {
	r := newTestRig(t)
	bufs := r.streaming(t, 4)

	for _, b := range bufs[:3] {
		if err := r.dev.QueueBuffer(b); err != nil {
			t.Fatal(err)
		}
	}
	if r.dev.QueuedBuffers() != 3 {
		t.Fatalf("QueuedBuffers() = %d", r.dev.QueuedBuffers())
	}
	for range 3 {
		r.tick(t)
	}

	if len(r.got) != 3 {
		t.Fatalf("%d buffers completed, want 3", len(r.got))
	}
	for i, b := range r.got {
		if b != bufs[i] {
			t.Errorf("completion %d is not buffer %d", i, i)
		}
		md := b.Metadata()
		if md.Status != camera.FrameSuccess || md.Sequence != uint32(i) || md.BytesUsed() != 640*480*3 {
			t.Errorf("buffer %d metadata = %+v", i, md)
		}
	}
	if r.dev.QueuedBuffers() != 0 {
		t.Errorf("QueuedBuffers() = %d after completion", r.dev.QueuedBuffers())
	}
}

func TestFramePixelsWritten(t *testing.T) {
	r := newTestRig(t)
	bufs := r.streaming(t, 1)
	if err := r.dev.QueueBuffer(bufs[0]); err != nil {
		t.Fatal(err)
	}
	r.tick(t)

	p := bufs[0].Planes()[0]
	mem, err := unix.Mmap(p.Fd, 0, int(p.Length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Munmap(mem)
	if mem[0] != 191 || mem[1] != 191 || mem[2] != 191 {
		t.Errorf("first pixel = %v, want the white bar", mem[:3])
	}
	last := (640 - 1) * 3
	if mem[last] != 0 || mem[last+1] != 0 || mem[last+2] != 0 {
		t.Errorf("last pixel = %v, want the black bar", mem[last:last+3])
	}
}

func TestQueueBufferSlotsExhausted(t *testing.T) {
	r := newTestRig(t)
	bufs := r.streaming(t, 2)
	extra, err := r.dev.ExportBuffers(1)
	if !errors.Is(err, camera.ErrBusy) || extra != nil {
		t.Errorf("ExportBuffers() while streaming = %v", err)
	}

	for _, b := range bufs {
		if err := r.dev.QueueBuffer(b); err != nil {
			t.Fatal(err)
		}
	}
	spare := camera.NewFrameBuffer(bufs[0].Planes(), 0)
	err = r.dev.QueueBuffer(spare)
	if !errors.Is(err, camera.ErrBusy) || !camera.IsTransient(err) {
		t.Errorf("QueueBuffer() with all slots used = %v, want a transient ErrBusy", err)
	}
}

func TestQueueBufferWithoutSlots(t *testing.T) {
	r := newTestRig(t)
	buf := camera.NewFrameBuffer([]camera.Plane{{Fd: 0, Length: 1}}, 0)
	if err := r.dev.QueueBuffer(buf); !errors.Is(err, camera.ErrInvalidState) {
		t.Errorf("QueueBuffer() = %v, want ErrInvalidState", err)
	}
	if err := r.dev.QueueBuffer(camera.NewFrameBuffer(nil, 0)); !errors.Is(err, camera.ErrInvalidArgument) {
		t.Errorf("QueueBuffer() without planes = %v", err)
	}
}

func TestQueueBufferWatchFailure(t *testing.T) {
	r := newTestRig(t)
	bufs := r.streaming(t, 2)
	if err := r.disp.Close(); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		err := r.dev.QueueBuffer(bufs[0])
		if !errors.Is(err, dispatcher.ErrClosed) {
			t.Fatalf("QueueBuffer() with a closed dispatcher = %v, want ErrClosed", err)
		}
	}
	if r.node.Tick() {
		t.Error("buffer reached the node although its completion cannot be delivered")
	}
	if err := r.dev.StreamOff(); err != nil {
		t.Fatal(err)
	}
	if len(r.got) != 0 {
		t.Errorf("%d buffers returned by StreamOff, want none", len(r.got))
	}
}

func TestStreamOffCancelsQueuedBuffers(t *testing.T) {
	r := newTestRig(t)
	bufs := r.streaming(t, 4)
	for _, b := range bufs {
		if err := r.dev.QueueBuffer(b); err != nil {
			t.Fatal(err)
		}
	}
	r.tick(t)

	if err := r.dev.StreamOff(); err != nil {
		t.Fatal(err)
	}
	if len(r.got) != 4 {
		t.Fatalf("%d buffers returned, want 4", len(r.got))
	}
	if r.got[0].Metadata().Status != camera.FrameSuccess {
		t.Error("filled buffer reported as cancelled")
	}
	for i, b := range r.got[1:] {
		if b != bufs[i+1] || b.Metadata().Status != camera.FrameCancelled {
			t.Errorf("buffer %d: status %v", i+1, b.Metadata().Status)
		}
	}
	if r.dev.Streaming() || r.dev.QueuedBuffers() != 0 {
		t.Error("device still streaming after StreamOff")
	}
	if err := r.dev.StreamOff(); err != nil {
		t.Errorf("second StreamOff() = %v", err)
	}
	if err := r.dev.ReleaseBuffers(); err != nil || r.dev.HeldBuffers() != 0 {
		t.Errorf("ReleaseBuffers() = %v, held %d", err, r.dev.HeldBuffers())
	}
}

func TestBusyWhileStreaming(t *testing.T) {
	r := newTestRig(t)
	r.streaming(t, 2)

	if _, err := r.dev.SetFormat(v4l2.PixFormat{Width: 1280, Height: 720}); !errors.Is(err, camera.ErrBusy) {
		t.Errorf("SetFormat() = %v, want ErrBusy", err)
	}
	if err := r.dev.ImportBuffers(2); !errors.Is(err, camera.ErrBusy) {
		t.Errorf("ImportBuffers() = %v, want ErrBusy", err)
	}
	if _, err := r.dev.ExportBuffers(2); !errors.Is(err, camera.ErrBusy) {
		t.Errorf("ExportBuffers() = %v, want ErrBusy", err)
	}
	if err := r.dev.ReleaseBuffers(); !errors.Is(err, camera.ErrBusy) {
		t.Errorf("ReleaseBuffers() = %v, want ErrBusy", err)
	}
}

func TestStreamOnFailureRollback(t *testing.T) {
	r := newTestRig(t)
	if _, err := r.dev.SetFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: uint32(camera.BGR888)}); err != nil {
		t.Fatal(err)
	}
	if err := r.dev.ImportBuffers(4); err != nil {
		t.Fatal(err)
	}
	if r.dev.HeldBuffers() != 4 {
		t.Fatalf("HeldBuffers() = %d", r.dev.HeldBuffers())
	}

	r.node.FailStreamOn(unix.EIO)
	if err := r.dev.StreamOn(); !errors.Is(err, unix.EIO) {
		t.Fatalf("StreamOn() = %v, want EIO", err)
	}
	if err := r.dev.ReleaseBuffers(); err != nil {
		t.Fatal(err)
	}
	if r.dev.HeldBuffers() != 0 || r.dev.Streaming() {
		t.Errorf("held=%d streaming=%v after rollback", r.dev.HeldBuffers(), r.dev.Streaming())
	}
}

func TestFrameErrorReported(t *testing.T) {
	r := newTestRig(t)
	bufs := r.streaming(t, 2)
	r.node.InjectFrameErrors(1)
	for _, b := range bufs {
		_ = r.dev.QueueBuffer(b)
	}
	r.tick(t)
	r.tick(t)

	if got := r.got[0].Metadata().Status; got != camera.FrameError {
		t.Errorf("first frame status = %v, want error", got)
	}
	if got := r.got[1].Metadata().Status; got != camera.FrameSuccess {
		t.Errorf("second frame status = %v, want success", got)
	}
}

func TestPickSlotPrefersPreviousDescriptor(t *testing.T) {
	d := &Device{slots: []slot{
		{fd: 10},
		{fd: -1},
		{fd: 12},
		{fd: 13, buffer: camera.NewFrameBuffer(nil, 0)},
	}}
	tests := []struct {
		fd   int
		want int
	}{
		{12, 2},
		{10, 0},
		{99, 1},
		{13, 1},
	}
	for _, tt := range tests {
		if got := d.pickSlot(tt.fd); got != tt.want {
			t.Errorf("pickSlot(%d) = %d, want %d", tt.fd, got, tt.want)
		}
	}

	d.slots[1].buffer = camera.NewFrameBuffer(nil, 0)
	d.slots[0].buffer = camera.NewFrameBuffer(nil, 0)
	d.slots[2].buffer = camera.NewFrameBuffer(nil, 0)
	if got := d.pickSlot(10); got != -1 {
		t.Errorf("pickSlot() with no free slot = %d, want -1", got)
	}
}

func TestYUVConversion(t *testing.T) {
	tests := []struct {
		rgb     [3]byte
		y, u, v byte
	}{
		{[3]byte{191, 191, 191}, 180, 128, 128},
		{[3]byte{0, 0, 0}, 16, 128, 128},
	}
	for _, tt := range tests {
		y, u, v := yuv(tt.rgb)
		if y != tt.y || u != tt.u || v != tt.v {
			t.Errorf("yuv(%v) = %d,%d,%d, want %d,%d,%d", tt.rgb, y, u, v, tt.y, tt.u, tt.v)
		}
	}
}
