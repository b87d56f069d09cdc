//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by operations on a closed VideoNode.
var ErrClosed = errors.New("v4l2: node closed")

// VideoNode is an open, non-blocking V4L2 capture node.
type VideoNode struct {
	path    string
	fd      int
	driver  string
	card    string
	busInfo string
	caps    uint32
}

// OpenNode opens a capture node and verifies it supports streaming capture.
func OpenNode(path string) (*VideoNode, error) {
	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	capability := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&capability)); err != nil {
		closeFd(fd)
		return nil, fmt.Errorf("failed to query capabilities of %s: %w", path, err)
	}

	caps := capability.capabilities
	if caps&v4l2CapDeviceCaps != 0 {
		caps = capability.deviceCaps
	}
	if caps&v4l2CapVideoCapture == 0 || caps&v4l2CapStreaming == 0 {
		closeFd(fd)
		return nil, fmt.Errorf("%s is not a streaming capture node: %w", path, unix.ENODEV)
	}

	return &VideoNode{
		path:    path,
		fd:      fd,
		driver:  cstr(capability.driver[:]),
		card:    cstr(capability.card[:]),
		busInfo: cstr(capability.busInfo[:]),
		caps:    caps,
	}, nil
}

// Path returns the device node path.
func (n *VideoNode) Path() string { return n.path }

// Fd returns the file descriptor, readable when a buffer can be dequeued.
func (n *VideoNode) Fd() int { return n.fd }

// Driver returns the kernel driver name.
func (n *VideoNode) Driver() string { return n.driver }

// Card returns the device name reported by the driver.
func (n *VideoNode) Card() string { return n.card }

// BusInfo returns the bus location of the device.
func (n *VideoNode) BusInfo() string { return n.busInfo }

// Formats enumerates the pixel formats of the node.
func (n *VideoNode) Formats() ([]FormatInfo, error) {
	if n.fd < 0 {
		return nil, ErrClosed
	}
	return enumFormats(n.fd)
}

// FrameSizes enumerates the frame sizes for a pixel format.
func (n *VideoNode) FrameSizes(pixelFormat uint32) ([]FrameSize, error) {
	if n.fd < 0 {
		return nil, ErrClosed
	}
	return enumFrameSizes(n.fd, pixelFormat)
}

// GetFormat returns the current capture format.
func (n *VideoNode) GetFormat() (PixFormat, error) {
	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	if err := ioctl(n.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}
	return pixFormatFromKernel(&f.pix), nil
}

// SetFormat requests a capture format and returns what the driver applied.
// The driver may adjust any field; callers must compare the result.
func (n *VideoNode) SetFormat(pf PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	f.pix = v4l2PixFormat{
		width:        pf.Width,
		height:       pf.Height,
		pixelformat:  pf.PixelFormat,
		field:        v4l2FieldNone,
		bytesperline: pf.BytesPerLine,
	}
	if err := ioctl(n.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	return pixFormatFromKernel(&f.pix), nil
}

// RequestBuffers asks the driver for count buffers of the given memory type
// and returns how many it allocated. A count of zero frees all buffers.
func (n *VideoNode) RequestBuffers(count uint32, memory Memory) (uint32, error) {
	req := v4l2RequestBuffers{
		count:  count,
		typ:    v4l2BufTypeVideoCapture,
		memory: uint32(memory),
	}
	if err := ioctl(n.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS(%d): %w", count, err)
	}
	return req.count, nil
}

// QueryBuffer returns the driver's description of an MMAP buffer.
func (n *VideoNode) QueryBuffer(index uint32) (Buffer, error) {
	b := v4l2Buffer{
		index:  index,
		typ:    v4l2BufTypeVideoCapture,
		memory: uint32(MemoryMMAP),
	}
	if err := ioctl(n.fd, vidiocQuerybuf, unsafe.Pointer(&b)); err != nil {
		return Buffer{}, fmt.Errorf("VIDIOC_QUERYBUF(%d): %w", index, err)
	}
	return bufferFromKernel(&b), nil
}

// ExportBuffer exports an MMAP buffer as a dmabuf file descriptor.
func (n *VideoNode) ExportBuffer(index uint32) (int, error) {
	exp := v4l2ExportBuffer{
		typ:   v4l2BufTypeVideoCapture,
		index: index,
		flags: unix.O_RDWR | unix.O_CLOEXEC,
	}
	if err := ioctl(n.fd, vidiocExpbuf, unsafe.Pointer(&exp)); err != nil {
		return -1, fmt.Errorf("VIDIOC_EXPBUF(%d): %w", index, err)
	}
	return int(exp.fd), nil
}

// QueueBuffer hands a buffer to the driver.
func (n *VideoNode) QueueBuffer(buf Buffer) error {
	b := v4l2Buffer{
		index:  buf.Index,
		typ:    v4l2BufTypeVideoCapture,
		memory: uint32(buf.Memory),
		length: buf.Length,
		field:  v4l2FieldNone,
	}
	if buf.Memory == MemoryDMABUF {
		b.setFd(int32(buf.Fd))
	}
	if err := ioctl(n.fd, vidiocQbuf, unsafe.Pointer(&b)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF(%d): %w", buf.Index, err)
	}
	return nil
}

// DequeueBuffer takes a filled buffer from the driver. It returns an error
// wrapping EAGAIN when no buffer is ready.
func (n *VideoNode) DequeueBuffer(memory Memory) (Buffer, error) {
	b := v4l2Buffer{
		typ:    v4l2BufTypeVideoCapture,
		memory: uint32(memory),
	}
	if err := ioctl(n.fd, vidiocDqbuf, unsafe.Pointer(&b)); err != nil {
		return Buffer{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return bufferFromKernel(&b), nil
}

// StreamOn starts capture.
func (n *VideoNode) StreamOn() error {
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(n.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

// StreamOff stops capture and returns all queued buffers to userspace.
func (n *VideoNode) StreamOff() error {
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(n.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

// QueryControl describes a control. Unknown IDs return an error wrapping EINVAL.
func (n *VideoNode) QueryControl(id uint32) (ControlInfo, error) {
	q := v4l2Queryctrl{id: id}
	if err := ioctl(n.fd, vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
		return ControlInfo{}, fmt.Errorf("VIDIOC_QUERYCTRL(%#x): %w", id, err)
	}
	return ControlInfo{
		ID:      q.id,
		Name:    cstr(q.name[:]),
		Type:    q.typ,
		Minimum: q.minimum,
		Maximum: q.maximum,
		Step:    q.step,
		Default: q.defaultValue,
		Flags:   q.flags,
	}, nil
}

// GetControl reads the current value of a control.
func (n *VideoNode) GetControl(id uint32) (int32, error) {
	c := v4l2Control{id: id}
	if err := ioctl(n.fd, vidiocGCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, fmt.Errorf("VIDIOC_G_CTRL(%#x): %w", id, err)
	}
	return c.value, nil
}

// SetControl writes a control value.
func (n *VideoNode) SetControl(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	if err := ioctl(n.fd, vidiocSCtrl, unsafe.Pointer(&c)); err != nil {
		return fmt.Errorf("VIDIOC_S_CTRL(%#x): %w", id, err)
	}
	return nil
}

// Close releases the node. Closing twice is a no-op.
func (n *VideoNode) Close() error {
	if n.fd < 0 {
		return nil
	}
	err := closeFd(n.fd)
	n.fd = -1
	return err
}

func pixFormatFromKernel(p *v4l2PixFormat) PixFormat {
	return PixFormat{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		Field:        p.field,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
	}
}

func bufferFromKernel(b *v4l2Buffer) Buffer {
	buf := Buffer{
		Index:     b.index,
		Memory:    Memory(b.memory),
		Fd:        -1,
		Length:    b.length,
		BytesUsed: b.bytesused,
		Flags:     b.flags,
		Sequence:  b.sequence,
		Timestamp: b.timestamp(),
	}
	switch buf.Memory {
	case MemoryDMABUF:
		buf.Fd = int(b.fd())
	case MemoryMMAP:
		buf.Offset = b.offset()
	}
	return buf
}
