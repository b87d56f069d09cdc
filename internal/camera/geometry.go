package camera

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a frame size in pixels.
type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Area returns Width*Height.
func (s Size) Area() uint64 {
	return uint64(s.Width) * uint64(s.Height)
}

// IsZero reports whether either dimension is zero.
func (s Size) IsZero() bool {
	return s.Width == 0 || s.Height == 0
}

// Covers reports whether s is at least as large as o in both dimensions.
func (s Size) Covers(o Size) bool {
	return s.Width >= o.Width && s.Height >= o.Height
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(str string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(str)), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid size %q: %w", str, ErrInvalidArgument)
	}
	width, err := strconv.ParseUint(w, 10, 32)
	if err != nil {
		return Size{}, fmt.Errorf("invalid width in %q: %w", str, ErrInvalidArgument)
	}
	height, err := strconv.ParseUint(h, 10, 32)
	if err != nil {
		return Size{}, fmt.Errorf("invalid height in %q: %w", str, ErrInvalidArgument)
	}
	return Size{Width: uint32(width), Height: uint32(height)}, nil
}

// SizeRange is a set of sizes from Min to Max in HStep/VStep increments.
// A discrete size has Min == Max.
type SizeRange struct {
	Min   Size   `json:"min"`
	Max   Size   `json:"max"`
	HStep uint32 `json:"hstep"`
	VStep uint32 `json:"vstep"`
}

// DiscreteRange returns the range holding only s.
func DiscreteRange(s Size) SizeRange {
	return SizeRange{Min: s, Max: s}
}

// Discrete reports whether the range holds a single size.
func (r SizeRange) Discrete() bool {
	return r.Min == r.Max
}

// Contains reports whether s lies within the range and on its step grid.
func (r SizeRange) Contains(s Size) bool {
	if s.Width < r.Min.Width || s.Width > r.Max.Width ||
		s.Height < r.Min.Height || s.Height > r.Max.Height {
		return false
	}
	if r.HStep > 1 && (s.Width-r.Min.Width)%r.HStep != 0 {
		return false
	}
	if r.VStep > 1 && (s.Height-r.Min.Height)%r.VStep != 0 {
		return false
	}
	return true
}

// Clamp returns the size of the range closest to s, rounding down onto the
// step grid.
func (r SizeRange) Clamp(s Size) Size {
	return Size{
		Width:  clampStep(s.Width, r.Min.Width, r.Max.Width, r.HStep),
		Height: clampStep(s.Height, r.Min.Height, r.Max.Height, r.VStep),
	}
}

// snapUp returns the smallest size of the range covering s, or the largest
// size of the range when none does.
func (r SizeRange) snapUp(s Size) Size {
	return Size{
		Width:  ceilStep(s.Width, r.Min.Width, r.Max.Width, r.HStep),
		Height: ceilStep(s.Height, r.Min.Height, r.Max.Height, r.VStep),
	}
}

func ceilStep(v, lo, hi, step uint32) uint32 {
	v = max(v, lo)
	if step > 1 {
		v = lo + (v-lo+step-1)/step*step
	}
	if v > hi {
		return clampStep(hi, lo, hi, step)
	}
	return v
}

func clampStep(v, lo, hi, step uint32) uint32 {
	v = min(max(v, lo), hi)
	if step > 1 {
		v = lo + (v-lo)/step*step
	}
	return v
}

func (r SizeRange) String() string {
	if r.Discrete() {
		return r.Min.String()
	}
	return fmt.Sprintf("(%s)-(%s)/(+%d,+%d)", r.Min, r.Max, r.HStep, r.VStep)
}
