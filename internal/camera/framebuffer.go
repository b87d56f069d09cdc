package camera

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// FrameStatus is the outcome of capturing into one buffer.
type FrameStatus int

// Frame statuses.
const (
	FrameSuccess FrameStatus = iota
	FrameError
	FrameCancelled
)

func (s FrameStatus) String() string {
	switch s {
	case FrameSuccess:
		return "success"
	case FrameError:
		return "error"
	default:
		return "cancelled"
	}
}

// Plane is one memory region of a frame buffer.
type Plane struct {
	Fd     int
	Offset uint32
	Length uint32
}

// PlaneMetadata is filled per plane on completion.
type PlaneMetadata struct {
	BytesUsed uint32
}

// FrameMetadata describes a captured frame.
type FrameMetadata struct {
	Status    FrameStatus
	Sequence  uint32
	Timestamp time.Duration
	Planes    []PlaneMetadata
}

// BytesUsed sums the payload of all planes.
func (m FrameMetadata) BytesUsed() uint64 {
	var n uint64
	for _, p := range m.Planes {
		n += uint64(p.BytesUsed)
	}
	return n
}

// FrameBuffer is a handle to the memory of one frame. The device fill path
// and the application read path take turns on it, handed over by request
// completion.
type FrameBuffer struct {
	planes   []Plane
	cookie   uint64
	request  *Request
	metadata FrameMetadata
	owned    bool
}

// NewFrameBuffer wraps caller-owned memory. Close leaves the descriptors
// open.
func NewFrameBuffer(planes []Plane, cookie uint64) *FrameBuffer {
	return &FrameBuffer{planes: planes, cookie: cookie}
}

// NewExportedFrameBuffer wraps descriptors exported by a device. Close
// releases them.
func NewExportedFrameBuffer(planes []Plane) *FrameBuffer {
	return &FrameBuffer{planes: planes, owned: true}
}

// Planes returns the memory regions.
func (b *FrameBuffer) Planes() []Plane { return b.planes }

// Cookie returns the application value attached to the buffer.
func (b *FrameBuffer) Cookie() uint64 { return b.cookie }

// SetCookie attaches an application value to the buffer.
func (b *FrameBuffer) SetCookie(c uint64) { b.cookie = c }

// Request returns the request currently using the buffer, or nil.
func (b *FrameBuffer) Request() *Request { return b.request }

// Metadata returns the metadata of the last completion.
func (b *FrameBuffer) Metadata() FrameMetadata { return b.metadata }

// SetMetadata is called by the fill path before the buffer completes.
func (b *FrameBuffer) SetMetadata(md FrameMetadata) { b.metadata = md }

// Cancel marks the buffer as not filled.
func (b *FrameBuffer) Cancel() {
	b.metadata.Status = FrameCancelled
	for i := range b.metadata.Planes {
		b.metadata.Planes[i].BytesUsed = 0
	}
}

// Close releases exported memory. Planes sharing a descriptor close it once.
func (b *FrameBuffer) Close() error {
	if !b.owned {
		return nil
	}
	var errs []error
	closed := make(map[int]bool)
	for i, p := range b.planes {
		if p.Fd < 0 || closed[p.Fd] {
			continue
		}
		closed[p.Fd] = true
		if err := unix.Close(p.Fd); err != nil {
			errs = append(errs, err)
		}
		b.planes[i].Fd = -1
	}
	b.owned = false
	return errors.Join(errs...)
}
