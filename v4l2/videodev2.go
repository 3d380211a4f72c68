//go:build linux && (amd64 || arm64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel ABI structs and ioctl request codes for 64-bit Linux, from
// include/uapi/linux/videodev2.h.

// Compile-time struct size assertions. These fail to compile if a struct
// layout drifts from the kernel ABI.
// Pattern: [0]struct{} = [actual - expected]struct{} fails if actual != expected.
var (
	_ [0]struct{} = [unsafe.Sizeof(v4l2Capability{}) - 104]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2PixFormat{}) - 48]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Format{}) - 208]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2RequestBuffers{}) - 20]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2Buffer{}) - 88]struct{}{}
	_ [0]struct{} = [unsafe.Sizeof(v4l2ExportBuffer{}) - 64]struct{}{}

	_ [0]struct{} = [unsafe.Offsetof(v4l2Buffer{}.m) - 64]struct{}{}
	_ [0]struct{} = [unsafe.Offsetof(v4l2Format{}.pix) - 8]struct{}{}
)

// Capability flags (v4l2_capability.capabilities).
const (
	capVideoCapture = 0x00000001
	capVideoOutput  = 0x00000002
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000
)

// Buffer types.
const (
	bufTypeVideoCapture = 1
	bufTypeVideoOutput  = 2
)

// Memory modes.
const (
	memoryMMap   = 1
	memoryDMABuf = 4
)

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format embeds the pix union member only; the explicit padding after
// typ aligns the union to 8 bytes as the 64-bit kernel expects, and the
// trailing filler pads the union out to its full 200 bytes.
type v4l2Format struct {
	typ uint32
	_   [4]byte
	pix v4l2PixFormat
	_   [152]byte
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2Buffer matches the 64-bit layout: timeval is 16 bytes and the m union
// (offset/userptr/planes/fd) is pointer-sized.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         [4]byte
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	m         uint64
	length    uint32
	reserved2 uint32
	requestFD int32
	_         [4]byte
}

type v4l2ExportBuffer struct {
	typ      uint32
	index    uint32
	plane    uint32
	flags    uint32
	fd       int32
	reserved [11]uint32
}

// ioctl direction/encoding helpers (asm-generic/ioctl.h).
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1
	iocRead  = 2
)

func vidioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | uintptr('V')<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// Request codes are computed from the Go struct sizes, so the size
// assertions above also guard the ioctl numbers.
var (
	vidiocQuerycap  = vidioc(iocRead, 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocGFmt      = vidioc(iocRead|iocWrite, 4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt      = vidioc(iocRead|iocWrite, 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs   = vidioc(iocRead|iocWrite, 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQBuf      = vidioc(iocRead|iocWrite, 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocExpbuf    = vidioc(iocRead|iocWrite, 16, unsafe.Sizeof(v4l2ExportBuffer{}))
	vidiocDQBuf     = vidioc(iocRead|iocWrite, 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = vidioc(iocWrite, 18, unsafe.Sizeof(uint32(0)))
	vidiocStreamOff = vidioc(iocWrite, 19, unsafe.Sizeof(uint32(0)))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
