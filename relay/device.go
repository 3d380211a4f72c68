package relay

// Role identifies which end of the relay a device serves.
type Role int

const (
	// RoleCapture devices produce frames into enqueued buffers.
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

// Format is the frame geometry shared by both devices of a stream. After
// negotiation it holds the geometry the drivers actually applied.
type Format struct {
	Width       uint32
	Height      uint32
	PixelFormat uint32
}

// Device is the queue endpoint operation set the engine drives after open.
// Production devices wrap a v4l2 queue; tests substitute in-memory fakes.
//
// A Device is owned by exactly one stream worker; implementations need not
// be safe for concurrent use.
type Device interface {
	// Path returns the device identity for logs and error context.
	Path() string
	// Negotiate requests the format in f and writes the driver's actual
	// resulting format back into f.
	Negotiate(f *Format) error
	// RequestBuffers allocates a fixed pool and returns the granted count.
	RequestBuffers(count uint32) (uint32, error)
	// ExportBuffer returns a shareable memory handle for index. Called once
	// per index during setup, on the exporting device only.
	ExportBuffer(index uint32) (int, error)
	// Enqueue transfers ownership of the buffer at index to the device.
	Enqueue(index uint32, dmaFD int) error
	// Dequeue blocks until a buffer completes and returns its index.
	Dequeue() (uint32, error)
	StreamOn() error
	StreamOff() error
	// FD exposes the pollable descriptor for readiness waits.
	FD() int
	Close() error
}

// OpenFunc opens and capability-checks a device for the given role.
// The production implementation wraps v4l2.Open; tests inject fakes.
type OpenFunc func(path string, role Role, export bool) (Device, error)
