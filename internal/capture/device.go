//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/internal/dispatcher"
	"github.com/smazurov/camkit/internal/logging"
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

// slot is a device buffer index used in DMABUF import mode.
type slot struct {
	fd     int // descriptor last queued in the slot, -1 if never used
	buffer *camera.FrameBuffer
}

// Device is a handle on one capture node. It negotiates formats, lends
// buffers to the kernel and reports them back through BufferReady once
// they are filled. A Device is used from the event loop goroutine.
type Device struct {
	node   Node
	disp   dispatcher.Dispatcher
	logger *slog.Logger

	// BufferReady is called on the event loop for every buffer coming back
	// from the device, filled or cancelled, in the order the kernel
	// returns them.
	BufferReady func(*camera.FrameBuffer)

	mu        sync.Mutex
	format    v4l2.PixFormat
	slots     []slot
	queued    []uint32 // slot indices, in queueing order
	streaming bool
	notifier  *dispatcher.Notifier
	watching  bool
}

// NewDevice wraps an open node. disp delivers buffer completions.
func NewDevice(node Node, disp dispatcher.Dispatcher) *Device {
	d := &Device{
		node:   node,
		disp:   disp,
		logger: logging.GetLogger("capture").With("node", node.Path()),
	}
	d.notifier = dispatcher.NewNotifier(node.Fd(), dispatcher.Read, d.bufferAvailable)
	return d
}

// Node returns the underlying capture node.
func (d *Device) Node() Node { return d.node }

// Format returns the format negotiated by the last SetFormat.
func (d *Device) Format() v4l2.PixFormat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// Streaming reports whether the device is streaming.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// HeldBuffers returns the number of device buffer slots currently
// allocated for import.
func (d *Device) HeldBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.slots)
}

// QueuedBuffers returns the number of buffers owned by the kernel.
func (d *Device) QueuedBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

func (d *Device) checkIdle(op string) error {
	if d.streaming {
		return fmt.Errorf("%s on %s while streaming: %w", op, d.node.Path(), camera.ErrBusy)
	}
	return nil
}

// SetFormat applies pf and returns the format the device actually chose.
func (d *Device) SetFormat(pf v4l2.PixFormat) (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkIdle("set format"); err != nil {
		return v4l2.PixFormat{}, err
	}
	got, err := d.node.SetFormat(pf)
	if err != nil {
		return v4l2.PixFormat{}, err
	}
	d.format = got
	d.logger.Debug("Format set", "width", got.Width, "height", got.Height,
		"format", camera.PixelFormat(got.PixelFormat), "stride", got.BytesPerLine, "size", got.SizeImage)
	return got, nil
}

// ExportBuffers allocates count buffers in device memory and returns them
// as descriptors owned by the caller. The device keeps no reference to
// them, so they can later be imported with ImportBuffers.
func (d *Device) ExportBuffers(count uint32) ([]*camera.FrameBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkIdle("export buffers"); err != nil {
		return nil, err
	}
	if len(d.slots) > 0 {
		return nil, fmt.Errorf("export buffers on %s: buffers imported: %w", d.node.Path(), camera.ErrBusy)
	}

	n, err := d.node.RequestBuffers(count, v4l2.MemoryMMAP)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := d.node.RequestBuffers(0, v4l2.MemoryMMAP); err != nil {
			d.logger.Warn("Failed to free export buffers", "error", err)
		}
	}()
	if n < count {
		return nil, fmt.Errorf("export buffers on %s: got %d of %d: %w", d.node.Path(), n, count, unix.ENOMEM)
	}

	bufs := make([]*camera.FrameBuffer, 0, n)
	for i := range n {
		b, err := d.exportBuffer(i)
		if err != nil {
			for _, fb := range bufs {
				_ = fb.Close()
			}
			return nil, err
		}
		bufs = append(bufs, b)
	}
	d.logger.Debug("Buffers exported", "count", n)
	return bufs, nil
}

func (d *Device) exportBuffer(index uint32) (*camera.FrameBuffer, error) {
	info, err := d.node.QueryBuffer(index)
	if err != nil {
		return nil, err
	}
	fd, err := d.node.ExportBuffer(index)
	if err != nil {
		return nil, err
	}
	return camera.NewExportedFrameBuffer([]camera.Plane{{Fd: fd, Length: info.Length}}), nil
}

// ImportBuffers prepares count slots for externally allocated buffers.
func (d *Device) ImportBuffers(count uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkIdle("import buffers"); err != nil {
		return err
	}
	if len(d.slots) > 0 {
		return fmt.Errorf("import buffers on %s: already imported: %w", d.node.Path(), camera.ErrBusy)
	}

	n, err := d.node.RequestBuffers(count, v4l2.MemoryDMABUF)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("import buffers on %s: no slots: %w", d.node.Path(), unix.ENOMEM)
	}
	d.slots = make([]slot, n)
	for i := range d.slots {
		d.slots[i].fd = -1
	}
	d.logger.Debug("Buffer slots allocated", "count", n)
	return nil
}

// ReleaseBuffers frees the import slots. It is a no-op when none are held.
func (d *Device) ReleaseBuffers() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.slots) == 0 {
		return nil
	}
	if err := d.checkIdle("release buffers"); err != nil {
		return err
	}
	d.slots = nil
	d.queued = nil
	if _, err := d.node.RequestBuffers(0, v4l2.MemoryDMABUF); err != nil {
		return err
	}
	return nil
}

// pickSlot prefers the free slot that last held fd, so the kernel can keep
// its mapping. Caller holds d.mu.
func (d *Device) pickSlot(fd int) int {
	free := -1
	for i, s := range d.slots {
		if s.buffer != nil {
			continue
		}
		if s.fd == fd {
			return i
		}
		if free < 0 || (d.slots[free].fd >= 0 && s.fd < 0) {
			free = i
		}
	}
	return free
}

// QueueBuffer lends buf to the kernel. It fails with camera.ErrBusy when
// every slot is in use.
func (d *Device) QueueBuffer(buf *camera.FrameBuffer) error {
	planes := buf.Planes()
	if len(planes) == 0 {
		return fmt.Errorf("queue buffer: no planes: %w", camera.ErrInvalidArgument)
	}

	d.mu.Lock()
	if len(d.slots) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("queue buffer on %s: no buffer slots: %w", d.node.Path(), camera.ErrInvalidState)
	}
	i := d.pickSlot(planes[0].Fd)
	if i < 0 {
		d.mu.Unlock()
		return fmt.Errorf("queue buffer on %s: all %d slots in use: %w", d.node.Path(), len(d.slots), camera.ErrBusy)
	}

	// The node must be watched before the kernel owns the buffer, or its
	// completion could never be delivered.
	if !d.watching {
		if err := d.disp.RegisterNotifier(d.notifier); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("queue buffer on %s: watch node: %w", d.node.Path(), err)
		}
		d.watching = true
	}

	err := d.node.QueueBuffer(v4l2.Buffer{
		Index:  uint32(i),
		Memory: v4l2.MemoryDMABUF,
		Fd:     planes[0].Fd,
		Length: planes[0].Length,
	})
	if err != nil {
		if len(d.queued) == 0 {
			d.watching = false
			d.disp.UnregisterNotifier(d.notifier)
		}
		d.mu.Unlock()
		return err
	}
	d.slots[i] = slot{fd: planes[0].Fd, buffer: buf}
	d.queued = append(d.queued, uint32(i))
	d.mu.Unlock()
	return nil
}

// StreamOn starts capture.
func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return nil
	}
	if err := d.node.StreamOn(); err != nil {
		return err
	}
	d.streaming = true
	return nil
}

// StreamOff stops capture. Buffers still owned by the kernel are returned
// through BufferReady as cancelled, in queueing order. Stopping a device
// that is not streaming only cancels what is queued.
func (d *Device) StreamOff() error {
	d.mu.Lock()
	var err error
	if d.streaming {
		err = d.node.StreamOff()
		d.streaming = false
	}
	cancelled := make([]*camera.FrameBuffer, 0, len(d.queued))
	for _, i := range d.queued {
		cancelled = append(cancelled, d.slots[i].buffer)
		d.slots[i].buffer = nil
	}
	d.queued = nil
	unwatch := d.watching
	d.watching = false
	d.mu.Unlock()

	if unwatch {
		d.disp.UnregisterNotifier(d.notifier)
	}
	for _, b := range cancelled {
		b.Cancel()
		d.ready(b)
	}
	return err
}

func (d *Device) ready(b *camera.FrameBuffer) {
	if d.BufferReady != nil {
		d.BufferReady(b)
	}
}

// bufferAvailable dequeues every filled buffer.
func (d *Device) bufferAvailable() {
	for {
		b, ok := d.dequeue()
		if !ok {
			return
		}
		d.ready(b)
	}
}

func (d *Device) dequeue() (*camera.FrameBuffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queued) == 0 {
		return nil, false
	}

	vb, err := d.node.DequeueBuffer(v4l2.MemoryDMABUF)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) {
			d.logger.Warn("Failed to dequeue buffer", "error", err)
		}
		return nil, false
	}
	if int(vb.Index) >= len(d.slots) || d.slots[vb.Index].buffer == nil {
		d.logger.Warn("Kernel returned a buffer that was not queued", "index", vb.Index)
		return nil, false
	}

	buf := d.slots[vb.Index].buffer
	d.slots[vb.Index].buffer = nil
	if i := slices.Index(d.queued, vb.Index); i >= 0 {
		d.queued = slices.Delete(d.queued, i, i+1)
	}
	if len(d.queued) == 0 && d.watching {
		d.watching = false
		d.disp.UnregisterNotifier(d.notifier)
	}

	status := camera.FrameSuccess
	if vb.Error() {
		status = camera.FrameError
	}
	buf.SetMetadata(camera.FrameMetadata{
		Status:    status,
		Sequence:  vb.Sequence,
		Timestamp: vb.Timestamp,
		Planes:    []camera.PlaneMetadata{{BytesUsed: vb.BytesUsed}},
	})
	return buf, true
}

// Close stops streaming, frees device buffers and closes the node.
func (d *Device) Close() error {
	errs := []error{d.StreamOff(), d.ReleaseBuffers()}
	errs = append(errs, d.node.Close())
	return errors.Join(errs...)
}
