//go:build linux && (amd64 || arm64)

package v4l2

import (
	"time"
	"unsafe"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	vidiocGFmt     = 0xc0d05604
	vidiocSFmt     = 0xc0d05605
	vidiocQuerybuf = 0xc0585609
	vidiocQbuf     = 0xc058560f
	vidiocDqbuf    = 0xc0585611
)

// v4l2Format has size 208 bytes; the fmt union is 8-byte aligned.
type v4l2Format struct {
	typ uint32        // offset 0
	_   [4]byte       // padding
	pix v4l2PixFormat // offset 8
	_   [152]byte     // rest of the 200 byte union
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32   // offset 0
	typ       uint32   // offset 4
	bytesused uint32   // offset 8
	flags     uint32   // offset 12
	field     uint32   // offset 16
	_         [4]byte  // padding
	tvSec     int64    // offset 24
	tvUsec    int64    // offset 32
	timecode  [16]byte // offset 40
	sequence  uint32   // offset 56
	memory    uint32   // offset 60
	m         uint64   // offset 64 - union of offset, userptr, planes, fd
	length    uint32   // offset 72
	reserved2 uint32   // offset 76
	requestFd int32    // offset 80
	_         [4]byte  // padding to 88
}

func (b *v4l2Buffer) setFd(fd int32) { b.m = uint64(uint32(fd)) }

func (b *v4l2Buffer) fd() int32 { return int32(uint32(b.m)) }

func (b *v4l2Buffer) offset() uint32 { return uint32(b.m) }

func (b *v4l2Buffer) timestamp() time.Duration {
	return time.Duration(b.tvSec)*time.Second + time.Duration(b.tvUsec)*time.Microsecond
}
