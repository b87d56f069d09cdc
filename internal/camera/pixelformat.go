package camera

import (
	"fmt"
	"strings"
)

// PixelFormat is a V4L2 FourCC code.
type PixelFormat uint32

func fourcc(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Pixel formats. Names follow the DRM convention, where BGR888 stores R in
// the first byte and therefore maps to V4L2 'RGB3'.
var (
	BGR888   = fourcc('R', 'G', 'B', '3')
	RGB888   = fourcc('B', 'G', 'R', '3')
	XRGB8888 = fourcc('X', 'R', '2', '4')
	YUYV     = fourcc('Y', 'U', 'Y', 'V')
	NV12     = fourcc('N', 'V', '1', '2')
	MJPEG    = fourcc('M', 'J', 'P', 'G')
)

type formatInfo struct {
	name string
	bpp  uint32 // bytes per pixel of the first plane, 0 when compressed
	// vertical size of the whole frame relative to the first plane, in halves
	heightHalves uint32
}

var formatInfos = map[PixelFormat]formatInfo{
	BGR888:   {"BGR888", 3, 2},
	RGB888:   {"RGB888", 3, 2},
	XRGB8888: {"XRGB8888", 4, 2},
	YUYV:     {"YUYV", 2, 2},
	NV12:     {"NV12", 1, 3},
	MJPEG:    {"MJPEG", 0, 2},
}

// FourCC returns the four character code.
func (f PixelFormat) FourCC() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

func (f PixelFormat) String() string {
	if info, ok := formatInfos[f]; ok {
		return info.name
	}
	return f.FourCC()
}

// Known reports whether the format has layout information.
func (f PixelFormat) Known() bool {
	_, ok := formatInfos[f]
	return ok
}

// BytesPerPixel returns the size of one pixel in the first plane, or 0 for
// compressed and unknown formats.
func (f PixelFormat) BytesPerPixel() uint32 {
	return formatInfos[f].bpp
}

// MinStride returns the smallest valid line length for width pixels.
func (f PixelFormat) MinStride(width uint32) uint32 {
	return width * f.BytesPerPixel()
}

// FrameSize returns the byte size of a frame with the given line stride.
// Compressed formats report the worst case of two bytes per pixel.
func (f PixelFormat) FrameSize(size Size, stride uint32) uint32 {
	info, ok := formatInfos[f]
	if !ok || info.bpp == 0 {
		return size.Width * size.Height * 2
	}
	return stride * size.Height * info.heightHalves / 2
}

// ParsePixelFormat accepts a format name (case-insensitive) or a raw
// four character code.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, info := range formatInfos {
		if strings.EqualFold(info.name, s) {
			return f, nil
		}
	}
	if len(s) == 4 {
		return fourcc(s[0], s[1], s[2], s[3]), nil
	}
	return 0, fmt.Errorf("unknown pixel format %q: %w", s, ErrInvalidArgument)
}
