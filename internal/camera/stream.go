package camera

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// StreamRole hints at the intended use of a stream when generating a
// default configuration.
type StreamRole int

// Stream roles.
const (
	RoleRaw StreamRole = iota
	RoleStillCapture
	RoleVideoRecording
	RoleViewfinder
)

var roleNames = []string{"raw", "still", "video", "viewfinder"}

func (r StreamRole) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "unknown"
}

// ParseStreamRole parses a role name as printed by String.
func ParseStreamRole(s string) (StreamRole, error) {
	i := slices.Index(roleNames, strings.ToLower(s))
	if i < 0 {
		return 0, fmt.Errorf("unknown stream role %q: %w", s, ErrInvalidArgument)
	}
	return StreamRole(i), nil
}

// FormatSizes lists the sizes supported for one pixel format.
type FormatSizes struct {
	Format PixelFormat
	Sizes  []SizeRange
}

// StreamFormats is the capability set of a stream: the pixel formats it
// supports, in device preference order, and their sizes.
type StreamFormats struct {
	entries []FormatSizes
}

// NewStreamFormats creates a capability set. Entry order is kept.
func NewStreamFormats(entries ...FormatSizes) *StreamFormats {
	return &StreamFormats{entries: slices.Clone(entries)}
}

// PixelFormats returns the supported formats in preference order.
func (f *StreamFormats) PixelFormats() []PixelFormat {
	if f == nil {
		return nil
	}
	out := make([]PixelFormat, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Format
	}
	return out
}

// Supports reports whether pf is one of the supported formats.
func (f *StreamFormats) Supports(pf PixelFormat) bool {
	return f.ranges(pf) != nil
}

func (f *StreamFormats) ranges(pf PixelFormat) []SizeRange {
	if f == nil {
		return nil
	}
	for _, e := range f.entries {
		if e.Format == pf {
			return e.Sizes
		}
	}
	return nil
}

// Sizes returns the distinct range end points of pf, smallest first.
func (f *StreamFormats) Sizes(pf PixelFormat) []Size {
	var out []Size
	for _, r := range f.ranges(pf) {
		for _, s := range []Size{r.Min, r.Max} {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	slices.SortFunc(out, func(a, b Size) int {
		if a.Area() != b.Area() {
			return cmp.Compare(a.Area(), b.Area())
		}
		return cmp.Compare(a.Width, b.Width)
	})
	return out
}

// Range returns the bounding range of every size supported for pf. Steps
// are only reported when all ranges agree on them.
func (f *StreamFormats) Range(pf PixelFormat) SizeRange {
	ranges := f.ranges(pf)
	if len(ranges) == 0 {
		return SizeRange{}
	}
	out := ranges[0]
	for _, r := range ranges[1:] {
		out.Min.Width = min(out.Min.Width, r.Min.Width)
		out.Min.Height = min(out.Min.Height, r.Min.Height)
		out.Max.Width = max(out.Max.Width, r.Max.Width)
		out.Max.Height = max(out.Max.Height, r.Max.Height)
		if r.HStep != out.HStep || r.VStep != out.VStep {
			out.HStep, out.VStep = 0, 0
		}
	}
	return out
}

// Stream is one capture output of a camera. Streams are created and owned
// by pipeline handlers; configurations and requests only refer to them.
type Stream struct {
	index  int
	config StreamConfiguration
}

// NewStream creates the stream with the given index within its camera.
func NewStream(index int) *Stream {
	return &Stream{index: index}
}

// Index returns the stream position within its camera.
func (s *Stream) Index() int { return s.index }

// Configuration returns the configuration committed by the last
// successful Configure.
func (s *Stream) Configuration() StreamConfiguration { return s.config }

// StreamConfiguration is the negotiable description of one stream. Stride
// and FrameSize are only meaningful after a successful Configure.
type StreamConfiguration struct {
	PixelFormat PixelFormat
	Size        Size
	Stride      uint32
	FrameSize   uint32
	BufferCount uint32

	stream  *Stream
	formats *StreamFormats
}

// NewStreamConfiguration creates an empty configuration bound to a
// capability set. formats may be nil for application-built entries.
func NewStreamConfiguration(formats *StreamFormats) StreamConfiguration {
	return StreamConfiguration{formats: formats}
}

// Stream returns the stream bound by Configure, or nil.
func (c *StreamConfiguration) Stream() *Stream { return c.stream }

// SetStream binds the configuration to a stream. Pipeline handlers call it
// from Configure.
func (c *StreamConfiguration) SetStream(s *Stream) { c.stream = s }

// Formats returns the capability set, or nil.
func (c *StreamConfiguration) Formats() *StreamFormats { return c.formats }

func (c StreamConfiguration) String() string {
	return fmt.Sprintf("%s-%s", c.Size, c.PixelFormat)
}

// AdjustStreamConfiguration snaps cfg onto formats: an unsupported pixel
// format becomes the first supported one and an unsupported size becomes
// the smallest supported size covering it, or the largest one when none
// does. It records formats on cfg and reports whether anything changed.
func AdjustStreamConfiguration(cfg *StreamConfiguration, formats *StreamFormats) bool {
	cfg.formats = formats
	supported := formats.PixelFormats()
	if len(supported) == 0 {
		return false
	}

	adjusted := false
	if !formats.Supports(cfg.PixelFormat) {
		cfg.PixelFormat = supported[0]
		adjusted = true
	}

	ranges := formats.ranges(cfg.PixelFormat)
	for _, r := range ranges {
		if r.Contains(cfg.Size) {
			return adjusted
		}
	}

	var best, largest Size
	for _, r := range ranges {
		c := r.snapUp(cfg.Size)
		if c.Covers(cfg.Size) && (best.IsZero() || c.Area() < best.Area()) {
			best = c
		}
		if m := r.Clamp(r.Max); m.Area() > largest.Area() {
			largest = m
		}
	}
	if best.IsZero() {
		best = largest
	}
	if best != cfg.Size {
		cfg.Size = best
		adjusted = true
	}
	return adjusted
}
