//go:build linux && arm && !arm64

package v4l2

import (
	"time"
	"unsafe"
)

// Compile-time struct size assertions for 32-bit ARM.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// IOCTL constants for 32-bit ARM.
// v4l2_format loses its 8-byte union alignment and v4l2_buffer carries a
// 32-bit timeval, so these differ from the 64-bit values.
const (
	vidiocGFmt     = 0xc0cc5604
	vidiocSFmt     = 0xc0cc5605
	vidiocQuerybuf = 0xc0445609
	vidiocQbuf     = 0xc044560f
	vidiocDqbuf    = 0xc0445611
)

// v4l2Format has size 204 bytes on 32-bit.
type v4l2Format struct {
	typ uint32        // offset 0
	pix v4l2PixFormat // offset 4
	_   [152]byte     // rest of the 200 byte union
}

// v4l2Buffer has size 68 bytes on 32-bit.
type v4l2Buffer struct {
	index     uint32   // offset 0
	typ       uint32   // offset 4
	bytesused uint32   // offset 8
	flags     uint32   // offset 12
	field     uint32   // offset 16
	tvSec     int32    // offset 20
	tvUsec    int32    // offset 24
	timecode  [16]byte // offset 28
	sequence  uint32   // offset 44
	memory    uint32   // offset 48
	m         uint32   // offset 52 - union of offset, userptr, planes, fd
	length    uint32   // offset 56
	reserved2 uint32   // offset 60
	requestFd int32    // offset 64
}

func (b *v4l2Buffer) setFd(fd int32) { b.m = uint32(fd) }

func (b *v4l2Buffer) fd() int32 { return int32(b.m) }

func (b *v4l2Buffer) offset() uint32 { return b.m }

func (b *v4l2Buffer) timestamp() time.Duration {
	return time.Duration(b.tvSec)*time.Second + time.Duration(b.tvUsec)*time.Microsecond
}
