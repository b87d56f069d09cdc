//go:build linux

package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

// MaxBuffers is the largest number of buffers a SoftwareNode allocates.
const MaxBuffers = 32

type softControl struct {
	info  v4l2.ControlInfo
	value int32
}

// SoftwareNode is an in-memory capture node. It behaves like a V4L2 node
// whose frames are produced by Tick instead of hardware: queued buffers
// are filled with colour bars in FIFO order and become dequeueable through
// a readable eventfd.
type SoftwareNode struct {
	path    string
	entries []camera.FormatSizes
	formats *camera.StreamFormats

	mu       sync.Mutex
	efd      int
	closed   bool
	format   v4l2.PixFormat
	memory   v4l2.Memory
	count    uint32
	memfds   []int
	owned    []bool
	queue    []v4l2.Buffer
	done     []v4l2.Buffer
	started  time.Time
	sequence uint32

	streaming   bool
	streamOnErr error
	frameErrors int
	controls    []*softControl
	strideAlign uint32
}

// NewSoftwareNode creates a node advertising the given formats. The first
// format at its smallest size is the initial format.
func NewSoftwareNode(path string, formats ...camera.FormatSizes) (*SoftwareNode, error) {
	if len(formats) == 0 {
		return nil, fmt.Errorf("software node %s: no formats: %w", path, camera.ErrInvalidArgument)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("software node %s: eventfd: %w", path, err)
	}
	n := &SoftwareNode{
		path:    path,
		entries: formats,
		formats: camera.NewStreamFormats(formats...),
		efd:     efd,
		controls: []*softControl{
			{info: v4l2.ControlInfo{ID: v4l2.CidBrightness, Name: "Brightness", Minimum: 0, Maximum: 255, Step: 1, Default: 128}, value: 128},
			{info: v4l2.ControlInfo{ID: v4l2.CidContrast, Name: "Contrast", Minimum: 0, Maximum: 255, Step: 1, Default: 128}, value: 128},
			{info: v4l2.ControlInfo{ID: v4l2.CidSaturation, Name: "Saturation", Minimum: 0, Maximum: 255, Step: 1, Default: 128}, value: 128},
			{info: v4l2.ControlInfo{ID: v4l2.CidHue, Name: "Hue", Minimum: -128, Maximum: 127, Step: 1, Default: 0}},
		},
	}
	n.format = n.negotiate(v4l2.PixFormat{})
	return n, nil
}

// Path returns the name given to NewSoftwareNode.
func (n *SoftwareNode) Path() string { return n.path }

// Fd returns the eventfd that is readable while a filled buffer waits.
func (n *SoftwareNode) Fd() int { return n.efd }

// SetStrideAlign pads lines to a multiple of align bytes.
func (n *SoftwareNode) SetStrideAlign(align uint32) {
	n.mu.Lock()
	n.strideAlign = align
	n.mu.Unlock()
}

// FailStreamOn makes the next StreamOn calls fail with err until called
// with nil.
func (n *SoftwareNode) FailStreamOn(err error) {
	n.mu.Lock()
	n.streamOnErr = err
	n.mu.Unlock()
}

// InjectFrameErrors flags the next count frames as corrupted.
func (n *SoftwareNode) InjectFrameErrors(count int) {
	n.mu.Lock()
	n.frameErrors = count
	n.mu.Unlock()
}

// Formats lists the advertised formats.
func (n *SoftwareNode) Formats() ([]v4l2.FormatInfo, error) {
	out := make([]v4l2.FormatInfo, len(n.entries))
	for i, e := range n.entries {
		out[i] = v4l2.FormatInfo{PixelFormat: uint32(e.Format), FormatName: e.Format.String()}
	}
	return out, nil
}

// FrameSizes lists the sizes of pixelFormat.
func (n *SoftwareNode) FrameSizes(pixelFormat uint32) ([]v4l2.FrameSize, error) {
	for _, e := range n.entries {
		if uint32(e.Format) != pixelFormat {
			continue
		}
		out := make([]v4l2.FrameSize, len(e.Sizes))
		for i, r := range e.Sizes {
			out[i] = v4l2.FrameSize{
				MinWidth: r.Min.Width, MaxWidth: r.Max.Width, StepWidth: r.HStep,
				MinHeight: r.Min.Height, MaxHeight: r.Max.Height, StepHeight: r.VStep,
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("frame sizes of %s: %w", camera.PixelFormat(pixelFormat), unix.EINVAL)
}

// negotiate adjusts pf to the closest supported format. Caller holds n.mu
// or owns n exclusively.
func (n *SoftwareNode) negotiate(pf v4l2.PixFormat) v4l2.PixFormat {
	sc := camera.NewStreamConfiguration(n.formats)
	sc.PixelFormat = camera.PixelFormat(pf.PixelFormat)
	sc.Size = camera.Size{Width: pf.Width, Height: pf.Height}
	camera.AdjustStreamConfiguration(&sc, n.formats)

	stride := sc.PixelFormat.MinStride(sc.Size.Width)
	if a := n.strideAlign; a > 1 {
		stride = (stride + a - 1) / a * a
	}
	return v4l2.PixFormat{
		Width:        sc.Size.Width,
		Height:       sc.Size.Height,
		PixelFormat:  uint32(sc.PixelFormat),
		Field:        1,
		BytesPerLine: stride,
		SizeImage:    sc.PixelFormat.FrameSize(sc.Size, stride),
	}
}

// SetFormat applies the closest supported format and returns it.
func (n *SoftwareNode) SetFormat(pf v4l2.PixFormat) (v4l2.PixFormat, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(); err != nil {
		return v4l2.PixFormat{}, err
	}
	if n.count > 0 {
		return v4l2.PixFormat{}, fmt.Errorf("VIDIOC_S_FMT: %w", unix.EBUSY)
	}
	n.format = n.negotiate(pf)
	return n.format, nil
}

// GetFormat returns the current format.
func (n *SoftwareNode) GetFormat() (v4l2.PixFormat, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.format, n.check()
}

func (n *SoftwareNode) check() error {
	if n.closed {
		return v4l2.ErrClosed
	}
	return nil
}

// RequestBuffers allocates count buffers of the given memory type, or
// frees them when count is zero.
func (n *SoftwareNode) RequestBuffers(count uint32, memory v4l2.Memory) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(); err != nil {
		return 0, err
	}
	if memory != v4l2.MemoryMMAP && memory != v4l2.MemoryDMABUF {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: memory %d: %w", memory, unix.EINVAL)
	}
	if n.streaming {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: %w", unix.EBUSY)
	}

	n.freeMemory()
	n.queue, n.done = nil, nil
	n.drain()
	count = min(count, MaxBuffers)
	n.count = count
	n.memory = memory
	n.owned = make([]bool, count)
	if count == 0 || memory != v4l2.MemoryMMAP {
		return count, nil
	}

	for i := range count {
		fd, err := unix.MemfdCreate(fmt.Sprintf("camkit-%d", i), unix.MFD_CLOEXEC)
		if err == nil {
			err = unix.Ftruncate(fd, int64(n.format.SizeImage))
			if err != nil {
				unix.Close(fd)
			}
		}
		if err != nil {
			n.freeMemory()
			n.count = 0
			return 0, fmt.Errorf("VIDIOC_REQBUFS: allocate buffer %d: %w", i, err)
		}
		n.memfds = append(n.memfds, fd)
	}
	return count, nil
}

func (n *SoftwareNode) freeMemory() {
	for _, fd := range n.memfds {
		unix.Close(fd)
	}
	n.memfds = nil
}

// QueryBuffer describes buffer index.
func (n *SoftwareNode) QueryBuffer(index uint32) (v4l2.Buffer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index >= n.count {
		return v4l2.Buffer{}, fmt.Errorf("VIDIOC_QUERYBUF(%d): %w", index, unix.EINVAL)
	}
	b := v4l2.Buffer{Index: index, Memory: n.memory, Length: n.format.SizeImage}
	if n.owned[index] {
		b.Flags |= v4l2.BufFlagQueued
	}
	return b, nil
}

// ExportBuffer returns a new descriptor for the memory of an MMAP buffer.
func (n *SoftwareNode) ExportBuffer(index uint32) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.memory != v4l2.MemoryMMAP || index >= uint32(len(n.memfds)) {
		return -1, fmt.Errorf("VIDIOC_EXPBUF(%d): %w", index, unix.EINVAL)
	}
	fd, err := unix.FcntlInt(uintptr(n.memfds[index]), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("VIDIOC_EXPBUF(%d): %w", index, err)
	}
	return fd, nil
}

// QueueBuffer hands a buffer to the node.
func (n *SoftwareNode) QueueBuffer(buf v4l2.Buffer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(); err != nil {
		return err
	}
	switch {
	case buf.Index >= n.count, buf.Memory != n.memory, n.owned[buf.Index]:
		return fmt.Errorf("VIDIOC_QBUF(%d): %w", buf.Index, unix.EINVAL)
	case buf.Memory == v4l2.MemoryDMABUF && (buf.Fd < 0 || buf.Length < n.format.SizeImage):
		return fmt.Errorf("VIDIOC_QBUF(%d): dmabuf too small: %w", buf.Index, unix.EINVAL)
	}
	if buf.Memory == v4l2.MemoryMMAP {
		buf.Fd = n.memfds[buf.Index]
	}
	buf.Flags = v4l2.BufFlagQueued
	n.owned[buf.Index] = true
	n.queue = append(n.queue, buf)
	return nil
}

// DequeueBuffer returns the oldest filled buffer, or an error wrapping
// EAGAIN when none is ready.
func (n *SoftwareNode) DequeueBuffer(memory v4l2.Memory) (v4l2.Buffer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(); err != nil {
		return v4l2.Buffer{}, err
	}
	if memory != n.memory {
		return v4l2.Buffer{}, fmt.Errorf("VIDIOC_DQBUF: %w", unix.EINVAL)
	}
	if len(n.done) == 0 {
		n.drain()
		return v4l2.Buffer{}, fmt.Errorf("VIDIOC_DQBUF: %w", unix.EAGAIN)
	}
	b := n.done[0]
	n.done = n.done[1:]
	if len(n.done) == 0 {
		n.drain()
	}
	n.owned[b.Index] = false
	if b.Memory == v4l2.MemoryMMAP {
		b.Fd = 0
	}
	return b, nil
}

// StreamOn starts accepting Tick.
func (n *SoftwareNode) StreamOn() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(); err != nil {
		return err
	}
	if n.streamOnErr != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", n.streamOnErr)
	}
	if n.count == 0 {
		return fmt.Errorf("VIDIOC_STREAMON: no buffers: %w", unix.EINVAL)
	}
	if !n.streaming {
		n.streaming = true
		n.sequence = 0
		n.started = time.Now()
	}
	return nil
}

// StreamOff stops streaming and returns every buffer to userspace.
func (n *SoftwareNode) StreamOff() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(); err != nil {
		return err
	}
	n.streaming = false
	n.queue, n.done = nil, nil
	clear(n.owned)
	n.drain()
	return nil
}

// Streaming reports whether the node is streaming.
func (n *SoftwareNode) Streaming() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.streaming
}

// Pending returns the number of queued buffers waiting to be filled.
func (n *SoftwareNode) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Tick fills the oldest queued buffer. It reports false when the node is
// not streaming or no buffer is queued.
func (n *SoftwareNode) Tick() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.streaming || len(n.queue) == 0 {
		return false
	}
	b := n.queue[0]
	n.queue = n.queue[1:]

	b.Flags = v4l2.BufFlagDone
	b.Sequence = n.sequence
	b.Timestamp = time.Since(n.started)
	b.BytesUsed = n.format.SizeImage

	corrupt := n.frameErrors > 0
	if corrupt {
		n.frameErrors--
	}
	if err := n.fill(b.Fd, b.Sequence); err != nil || corrupt {
		b.Flags |= v4l2.BufFlagError
	}
	n.sequence++

	n.done = append(n.done, b)
	n.signal()
	return true
}

func (n *SoftwareNode) fill(fd int, seq uint32) error {
	size := int(n.format.SizeImage)
	if size == 0 {
		return nil
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	drawBars(mem, n.format, seq)
	return unix.Munmap(mem)
}

func (n *SoftwareNode) signal() {
	buf := [8]byte{1}
	_, _ = unix.Write(n.efd, buf[:])
}

func (n *SoftwareNode) drain() {
	var buf [8]byte
	_, _ = unix.Read(n.efd, buf[:])
}

// QueryControl describes a control.
func (n *SoftwareNode) QueryControl(id uint32) (v4l2.ControlInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.control(id)
	if c == nil {
		return v4l2.ControlInfo{}, fmt.Errorf("VIDIOC_QUERYCTRL(%#x): %w", id, unix.EINVAL)
	}
	return c.info, nil
}

// GetControl reads a control.
func (n *SoftwareNode) GetControl(id uint32) (int32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.control(id)
	if c == nil {
		return 0, fmt.Errorf("VIDIOC_G_CTRL(%#x): %w", id, unix.EINVAL)
	}
	return c.value, nil
}

// SetControl writes a control. Out of range values fail with ERANGE.
func (n *SoftwareNode) SetControl(id uint32, value int32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.control(id)
	if c == nil {
		return fmt.Errorf("VIDIOC_S_CTRL(%#x): %w", id, unix.EINVAL)
	}
	if value < c.info.Minimum || value > c.info.Maximum {
		return fmt.Errorf("VIDIOC_S_CTRL(%#x): %d: %w", id, value, unix.ERANGE)
	}
	c.value = value
	return nil
}

func (n *SoftwareNode) control(id uint32) *softControl {
	for _, c := range n.controls {
		if c.info.ID == id {
			return c
		}
	}
	return nil
}

// Close releases the eventfd and buffer memory. Closing twice is a no-op.
func (n *SoftwareNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.streaming = false
	n.freeMemory()
	return unix.Close(n.efd)
}
