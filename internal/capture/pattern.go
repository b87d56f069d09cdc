//go:build linux

package capture

import (
	"github.com/smazurov/camkit/internal/camera"
	"github.com/smazurov/camkit/pkg/linuxav/v4l2"
)

// 75% colour bars: white, yellow, cyan, green, magenta, red, blue, black.
var bars = [8][3]byte{
	{191, 191, 191}, {191, 191, 0}, {0, 191, 191}, {0, 191, 0},
	{191, 0, 191}, {191, 0, 0}, {0, 0, 191}, {0, 0, 0},
}

// yuv converts an RGB triple with BT.601 limited range coefficients.
func yuv(c [3]byte) (y, u, v byte) {
	r, g, b := int(c[0]), int(c[1]), int(c[2])
	y = byte((66*r+129*g+25*b+128)>>8 + 16)
	u = byte((-38*r-74*g+112*b+128)>>8 + 128)
	v = byte((112*r-94*g-18*b+128)>>8 + 128)
	return y, u, v
}

// drawBars fills mem with vertical colour bars that scroll one pixel per
// frame. Unknown and compressed formats are left untouched.
func drawBars(mem []byte, pf v4l2.PixFormat, seq uint32) {
	w, h, stride := int(pf.Width), int(pf.Height), int(pf.BytesPerLine)
	if w == 0 || h == 0 || stride == 0 {
		return
	}
	bar := func(x int) [3]byte {
		return bars[((x+int(seq))%w)*len(bars)/w]
	}

	switch camera.PixelFormat(pf.PixelFormat) {
	case camera.BGR888, camera.RGB888, camera.XRGB8888:
		bpp := int(camera.PixelFormat(pf.PixelFormat).BytesPerPixel())
		line := make([]byte, w*bpp)
		for x := range w {
			c := bar(x)
			p := line[x*bpp:]
			switch camera.PixelFormat(pf.PixelFormat) {
			case camera.BGR888:
				p[0], p[1], p[2] = c[0], c[1], c[2]
			case camera.RGB888:
				p[0], p[1], p[2] = c[2], c[1], c[0]
			default:
				p[0], p[1], p[2], p[3] = c[2], c[1], c[0], 0xff
			}
		}
		copyLines(mem, line, stride, h)

	case camera.YUYV:
		line := make([]byte, w*2)
		for x := 0; x+1 < w; x += 2 {
			y0, u, v := yuv(bar(x))
			y1, _, _ := yuv(bar(x + 1))
			line[x*2], line[x*2+1], line[x*2+2], line[x*2+3] = y0, u, y1, v
		}
		copyLines(mem, line, stride, h)

	case camera.NV12:
		luma := make([]byte, w)
		chroma := make([]byte, w)
		for x := range w {
			y, u, v := yuv(bar(x &^ 1))
			luma[x] = y
			if x%2 == 0 {
				chroma[x] = u
			} else {
				chroma[x] = v
			}
		}
		copyLines(mem, luma, stride, h)
		if len(mem) > stride*h {
			copyLines(mem[stride*h:], chroma, stride, h/2)
		}
	}
}

func copyLines(mem, line []byte, stride, lines int) {
	for y := range lines {
		off := y * stride
		if off >= len(mem) {
			return
		}
		copy(mem[off:], line)
	}
}
