//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// GetFormats returns all supported pixel formats for a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	return enumFormats(fd)
}

// GetFrameSizes returns the frame sizes a device supports for a pixel format.
func GetFrameSizes(devicePath string, pixelFormat uint32) ([]FrameSize, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	defer closeFd(fd)

	return enumFrameSizes(fd, pixelFormat)
}

func enumFormats(fd int) ([]FormatInfo, error) {
	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{
			index: i,
			typ:   v4l2BufTypeVideoCapture,
		}

		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, err)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: desc.pixelformat,
			FormatName:  cstr(desc.description[:]),
			Emulated:    desc.flags&v4l2FmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

func enumFrameSizes(fd int, pixelFormat uint32) ([]FrameSize, error) {
	var sizes []FrameSize

	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{
			index:       i,
			pixelFormat: pixelFormat,
		}

		if err := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(err, unix.ENOTTY) {
				return []FrameSize{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, err)
		}

		size, stepwise := frameSizeFromEnum(&frmsize)
		sizes = append(sizes, size)
		if stepwise {
			break // Only one stepwise entry
		}
	}

	return sizes, nil
}

func frameSizeFromEnum(e *v4l2Frmsizeenum) (FrameSize, bool) {
	sw := e.stepwise
	switch e.typ {
	case v4l2FrmsizeTypeContinuous:
		return FrameSize{
			MinWidth: sw.minWidth, MaxWidth: sw.maxWidth, StepWidth: 1,
			MinHeight: sw.minHeight, MaxHeight: sw.maxHeight, StepHeight: 1,
		}, true
	case v4l2FrmsizeTypeStepwise:
		return FrameSize{
			MinWidth: sw.minWidth, MaxWidth: sw.maxWidth, StepWidth: sw.stepWidth,
			MinHeight: sw.minHeight, MaxHeight: sw.maxHeight, StepHeight: sw.stepHeight,
		}, true
	default:
		// Discrete: width and height overlay minWidth and maxWidth
		return FrameSize{
			MinWidth: sw.minWidth, MaxWidth: sw.minWidth,
			MinHeight: sw.maxWidth, MaxHeight: sw.maxWidth,
		}, false
	}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := []byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	}
	return string(b)
}

// FourCC packs a four character code into a pixel format value.
func FourCC(code string) uint32 {
	var b [4]byte
	copy(b[:], code)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
