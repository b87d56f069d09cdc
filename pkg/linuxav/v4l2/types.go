//go:build linux

package v4l2

import "time"

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string // Card name reported by QUERYCAP
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Driver     string
	BusInfo    string
	EntityName string // Media entity name from sysfs, e.g. "vivid-000-vid-cap"
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// FrameSize describes one VIDIOC_ENUM_FRAMESIZES entry. Discrete sizes have
// equal minimum and maximum and zero steps.
type FrameSize struct {
	MinWidth   uint32
	MaxWidth   uint32
	StepWidth  uint32
	MinHeight  uint32
	MaxHeight  uint32
	StepHeight uint32
}

// Discrete reports whether the entry is a single size.
func (f FrameSize) Discrete() bool {
	return f.MinWidth == f.MaxWidth && f.MinHeight == f.MaxHeight
}

// PixFormat is the single-planar capture format negotiated with a node.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Memory selects how buffer memory is provided to the driver.
type Memory uint32

// Memory types.
const (
	MemoryMMAP   Memory = 1
	MemoryDMABUF Memory = 4
)

// Buffer is the user-facing view of a struct v4l2_buffer.
type Buffer struct {
	Index     uint32
	Memory    Memory
	Fd        int    // dmabuf fd when Memory is MemoryDMABUF
	Offset    uint32 // mmap offset when Memory is MemoryMMAP
	Length    uint32
	BytesUsed uint32
	Flags     uint32
	Sequence  uint32
	Timestamp time.Duration
}

// Error reports whether the driver flagged the buffer as corrupted.
func (b Buffer) Error() bool {
	return b.Flags&BufFlagError != 0
}

// ControlInfo describes a V4L2 control as reported by VIDIOC_QUERYCTRL.
type ControlInfo struct {
	ID      uint32
	Name    string
	Type    uint32
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
}

// Buffer flags.
const (
	BufFlagMapped = 0x00000001
	BufFlagQueued = 0x00000002
	BufFlagDone   = 0x00000004
	BufFlagError  = 0x00000040
)

// User class control IDs.
const (
	CidBrightness = 0x00980900
	CidContrast   = 0x00980901
	CidSaturation = 0x00980902
	CidHue        = 0x00980903
)

// Control flags.
const (
	CtrlFlagDisabled = 0x0001
)

// Capability flags.
const (
	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000
	v4l2CapDeviceCaps   = 0x80000000
)

// Format flags.
const (
	v4l2FmtFlagEmulated = 0x0002
)

// Frame size types.
const (
	v4l2FrmsizeTypeDiscrete   = 1
	v4l2FrmsizeTypeContinuous = 2
	v4l2FrmsizeTypeStepwise   = 3
)

// Buffer type.
const (
	v4l2BufTypeVideoCapture = 1
)

// Field order.
const (
	v4l2FieldNone = 1
)
