//go:build linux && (amd64 || arm64)

// Package v4l2 provides pure Go bindings to the Video4Linux2 streaming API
// for queue endpoints used in buffer relays: capability queries, format
// negotiation, buffer pool requests, dmabuf export, and the enqueue/dequeue
// and stream on/off operations.
//
// The package does not use cgo. Kernel structs are declared with the exact
// 64-bit ABI layout and guarded by compile-time size assertions.
package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrCapability reports that a device does not offer the capability its
// assigned role requires.
var ErrCapability = errors.New("v4l2: required capability not supported")

// Role selects which side of a relay a device plays.
type Role int

const (
	// RoleCapture devices produce frames, filling enqueued buffers.
	RoleCapture Role = iota
	// RoleOutput devices consume filled buffers.
	RoleOutput
)

func (r Role) String() string {
	if r == RoleCapture {
		return "capture"
	}
	return "output"
}

// PixFormat describes the negotiated frame geometry of a device queue.
// After Negotiate it holds the format the driver actually applied, which
// may differ from the one requested.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  FourCC
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Device is one open V4L2 queue endpoint. A Device is owned by a single
// stream goroutine; its methods are not safe for concurrent use.
type Device struct {
	log       *slog.Logger
	path      string
	fd        int
	role      Role
	bufType   uint32
	memType   uint32
	export    bool
	streaming bool
}

// Open opens the video device at path and verifies it supports the given
// role and streaming I/O. An exporting device uses MMAP memory so its
// buffers can be handed out as dmabuf fds; an importing device uses DMABUF
// memory and receives the peer's fds at enqueue time. If log is nil,
// slog.Default() is used.
func Open(path string, role Role, export bool, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("v4l2: open %s: %w", path, err)
	}

	d := &Device{
		log:    log.With("device", path, "role", role.String()),
		path:   path,
		fd:     fd,
		role:   role,
		export: export,
	}

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		d.Close()
		return nil, fmt.Errorf("v4l2: VIDIOC_QUERYCAP %s: %w", path, err)
	}

	effective := caps.capabilities
	if effective&capDeviceCaps != 0 {
		effective = caps.deviceCaps
	}

	need := uint32(capVideoCapture)
	d.bufType = bufTypeVideoCapture
	if role == RoleOutput {
		need = capVideoOutput
		d.bufType = bufTypeVideoOutput
	}
	if effective&need == 0 {
		d.Close()
		return nil, fmt.Errorf("%w: %s does not offer %s (caps 0x%08x)",
			ErrCapability, path, role, effective)
	}
	if effective&capStreaming == 0 {
		d.Close()
		return nil, fmt.Errorf("%w: %s does not support streaming I/O (caps 0x%08x)",
			ErrCapability, path, effective)
	}

	d.memType = memoryDMABuf
	if export {
		d.memType = memoryMMap
	}

	d.log.Debug("device opened",
		"driver", cstr(caps.driver[:]),
		"card", cstr(caps.card[:]),
		"export", export,
	)
	return d, nil
}

// Negotiate applies the requested format with the G_FMT → S_FMT → G_FMT
// sequence and writes the driver's actual resulting format back into f, so
// both devices in a stream can observe the same coerced geometry.
func (d *Device) Negotiate(f *PixFormat) error {
	vf := v4l2Format{typ: d.bufType}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&vf)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_G_FMT %s: %w", d.path, err)
	}
	d.log.Debug("current format",
		"width", vf.pix.width, "height", vf.pix.height,
		"fourcc", FourCC(vf.pix.pixelformat).String(),
	)

	vf.pix.width = f.Width
	vf.pix.height = f.Height
	vf.pix.pixelformat = uint32(f.PixelFormat)
	vf.pix.field = f.Field

	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&vf)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_S_FMT %s: %w", d.path, err)
	}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&vf)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_G_FMT %s: %w", d.path, err)
	}

	f.Width = vf.pix.width
	f.Height = vf.pix.height
	f.PixelFormat = FourCC(vf.pix.pixelformat)
	f.Field = vf.pix.field
	f.BytesPerLine = vf.pix.bytesperline
	f.SizeImage = vf.pix.sizeimage

	d.log.Debug("format negotiated",
		"width", f.Width, "height", f.Height, "fourcc", f.PixelFormat.String(),
	)
	return nil
}

// RequestBuffers asks the driver to allocate a pool of count buffers and
// returns the count actually granted, which may be lower.
func (d *Device) RequestBuffers(count uint32) (uint32, error) {
	req := v4l2RequestBuffers{
		count:  count,
		typ:    d.bufType,
		memory: d.memType,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("v4l2: VIDIOC_REQBUFS %s: %w", d.path, err)
	}
	return req.count, nil
}

// ExportBuffer obtains a dmabuf fd for the buffer at index. Only valid on
// a device opened with export set.
func (d *Device) ExportBuffer(index uint32) (int, error) {
	if !d.export {
		return -1, fmt.Errorf("v4l2: %s is not the exporting device", d.path)
	}
	eb := v4l2ExportBuffer{
		typ:   d.bufType,
		index: index,
		flags: unix.O_CLOEXEC,
	}
	if err := ioctl(d.fd, vidiocExpbuf, unsafe.Pointer(&eb)); err != nil {
		return -1, fmt.Errorf("v4l2: VIDIOC_EXPBUF %s index %d: %w", d.path, index, err)
	}
	return int(eb.fd), nil
}

// Enqueue hands the buffer at index to the device queue. For an importing
// device dmaFD carries the peer's exported handle; an exporting (MMAP)
// device ignores it.
func (d *Device) Enqueue(index uint32, dmaFD int) error {
	vb := v4l2Buffer{
		index:  index,
		typ:    d.bufType,
		memory: d.memType,
	}
	if d.memType == memoryDMABuf {
		vb.m = uint64(uint32(int32(dmaFD)))
	}
	if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&vb)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_QBUF %s index %d: %w", d.path, index, err)
	}
	return nil
}

// Dequeue blocks until the device reports a completed buffer and returns
// its index, transferring ownership back to the caller.
func (d *Device) Dequeue() (uint32, error) {
	vb := v4l2Buffer{
		typ:    d.bufType,
		memory: d.memType,
	}
	for {
		err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&vb))
		if err == nil {
			return vb.index, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return 0, fmt.Errorf("v4l2: VIDIOC_DQBUF %s: %w", d.path, err)
	}
}

// StreamOn transitions the queue into streaming state.
func (d *Device) StreamOn() error {
	bt := d.bufType
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&bt)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_STREAMON %s: %w", d.path, err)
	}
	d.streaming = true
	return nil
}

// StreamOff stops the queue. Safe to call if the queue never started or
// was already stopped; the duplicate ioctl is skipped.
func (d *Device) StreamOff() error {
	if !d.streaming {
		return nil
	}
	d.streaming = false
	bt := d.bufType
	if err := ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&bt)); err != nil {
		return fmt.Errorf("v4l2: VIDIOC_STREAMOFF %s: %w", d.path, err)
	}
	return nil
}

// FD returns the device file descriptor for readiness polling.
func (d *Device) FD() int { return d.fd }

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// Close releases the device fd. Safe to call more than once.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	fd := d.fd
	d.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("v4l2: close %s: %w", d.path, err)
	}
	return nil
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
