//go:build linux

// Package capture drives kernel capture nodes: format negotiation, buffer
// import and export, and streaming with completion through the dispatcher.
package capture

import (
	"errors"
	"fmt"

	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

// Node is the kernel capture node interface. *v4l2.VideoNode implements it,
// as does SoftwareNode.
//
// Fd must become readable when DequeueBuffer can return a buffer. Methods
// that would block return an error wrapping unix.EAGAIN instead.
type Node interface {
	Path() string
	Fd() int
	Formats() ([]v4l2.FormatInfo, error)
	FrameSizes(pixelFormat uint32) ([]v4l2.FrameSize, error)
	SetFormat(pf v4l2.PixFormat) (v4l2.PixFormat, error)
	RequestBuffers(count uint32, memory v4l2.Memory) (uint32, error)
	QueryBuffer(index uint32) (v4l2.Buffer, error)
	ExportBuffer(index uint32) (int, error)
	QueueBuffer(buf v4l2.Buffer) error
	DequeueBuffer(memory v4l2.Memory) (v4l2.Buffer, error)
	StreamOn() error
	StreamOff() error
	Close() error
}

// ControlNode is implemented by nodes exposing integer controls.
type ControlNode interface {
	QueryControl(id uint32) (v4l2.ControlInfo, error)
	GetControl(id uint32) (int32, error)
	SetControl(id uint32, value int32) error
}

var (
	_ Node        = (*v4l2.VideoNode)(nil)
	_ ControlNode = (*v4l2.VideoNode)(nil)
)

// Open opens a V4L2 capture node.
func Open(path string) (Node, error) {
	n, err := v4l2.OpenNode(path)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// PixFormat converts a stream configuration to a kernel format request.
func PixFormat(sc camera.StreamConfiguration) v4l2.PixFormat {
	return v4l2.PixFormat{
		Width:        sc.Size.Width,
		Height:       sc.Size.Height,
		PixelFormat:  uint32(sc.PixelFormat),
		BytesPerLine: sc.Stride,
	}
}

// ApplyFormat stores a negotiated kernel format in sc. It fails with
// camera.ErrFormatMismatch when the kernel changed size or pixel format.
func ApplyFormat(sc *camera.StreamConfiguration, got v4l2.PixFormat) error {
	if got.Width != sc.Size.Width || got.Height != sc.Size.Height ||
		camera.PixelFormat(got.PixelFormat) != sc.PixelFormat {
		return fmt.Errorf("requested %s, device chose %dx%d-%s: %w", sc.String(),
			got.Width, got.Height, camera.PixelFormat(got.PixelFormat), camera.ErrFormatMismatch)
	}
	sc.Stride = got.BytesPerLine
	sc.FrameSize = got.SizeImage
	return nil
}

// formatGetter is implemented by nodes that report their current format.
type formatGetter interface {
	GetFormat() (v4l2.PixFormat, error)
}

// StreamFormats collects the formats and frame sizes a node advertises.
// Emulated formats are skipped. A format without frame size information
// gets the fallback range, or when fallback is zero the node's current
// size if the node is set to that format. Otherwise it is left out.
func StreamFormats(n Node, fallback camera.SizeRange) (*camera.StreamFormats, error) {
	infos, err := n.Formats()
	if err != nil {
		return nil, fmt.Errorf("enumerate formats of %s: %w", n.Path(), err)
	}

	var current v4l2.PixFormat
	if g, ok := n.(formatGetter); ok {
		current, _ = g.GetFormat()
	}

	var entries []camera.FormatSizes
	for _, fi := range infos {
		if fi.Emulated {
			continue
		}
		sizes, err := n.FrameSizes(fi.PixelFormat)
		if err != nil && !errors.Is(err, unix.EINVAL) {
			return nil, fmt.Errorf("enumerate sizes of %s: %w", n.Path(), err)
		}
		entry := camera.FormatSizes{Format: camera.PixelFormat(fi.PixelFormat)}
		for _, fs := range sizes {
			entry.Sizes = append(entry.Sizes, sizeRange(fs))
		}
		if len(entry.Sizes) == 0 {
			switch {
			case fallback != (camera.SizeRange{}):
				entry.Sizes = []camera.SizeRange{fallback}
			case current.PixelFormat == fi.PixelFormat && current.Width > 0 && current.Height > 0:
				entry.Sizes = []camera.SizeRange{camera.DiscreteRange(camera.Size{Width: current.Width, Height: current.Height})}
			default:
				continue
			}
		}
		entries = append(entries, entry)
	}
	return camera.NewStreamFormats(entries...), nil
}

func sizeRange(fs v4l2.FrameSize) camera.SizeRange {
	if fs.Discrete() {
		return camera.DiscreteRange(camera.Size{Width: fs.MinWidth, Height: fs.MinHeight})
	}
	return camera.SizeRange{
		Min:   camera.Size{Width: fs.MinWidth, Height: fs.MinHeight},
		Max:   camera.Size{Width: fs.MaxWidth, Height: fs.MaxHeight},
		HStep: fs.StepWidth,
		VStep: fs.StepHeight,
	}
}
