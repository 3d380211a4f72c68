package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// fakeDevice implements Device with an in-memory FIFO standing in for the
// kernel queue. Exported handles are real eventfds so Pool.Close can
// release them like dmabuf fds.
type fakeDevice struct {
	t *testing.T

	mu     sync.Mutex
	path   string
	role   Role
	export bool

	grant        uint32 // RequestBuffers result; 0 grants the requested count
	negotiateErr error
	exportErr    map[uint32]error
	enqueueErr   map[uint32]error
	streamOnErr  error

	coerce func(f *Format)

	negotiated Format
	requested  uint32
	queued     []uint32
	enqueued   []uint32
	dequeued   []uint32
	handleSeen map[uint32]int
	exported   []int
	onCalls    int
	offCalls   int
	closeCalls int
}

func newFakeDevice(t *testing.T, path string) *fakeDevice {
	return &fakeDevice{
		t:          t,
		path:       path,
		exportErr:  make(map[uint32]error),
		enqueueErr: make(map[uint32]error),
		handleSeen: make(map[uint32]int),
	}
}

func (d *fakeDevice) Path() string {
	return d.path
}

func (d *fakeDevice) Negotiate(f *Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.negotiateErr != nil {
		return d.negotiateErr
	}
	if d.coerce != nil {
		d.coerce(f)
	}
	d.negotiated = *f
	return nil
}

func (d *fakeDevice) RequestBuffers(count uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requested = count
	if d.grant > 0 {
		return d.grant, nil
	}
	return count, nil
}

func (d *fakeDevice) ExportBuffer(index uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.exportErr[index]; err != nil {
		return -1, err
	}
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		d.t.Fatalf("eventfd: %v", err)
	}
	d.exported = append(d.exported, fd)
	return fd, nil
}

func (d *fakeDevice) Enqueue(index uint32, dmaFD int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enqueueErr[index]; err != nil {
		return err
	}
	d.queued = append(d.queued, index)
	d.enqueued = append(d.enqueued, index)
	d.handleSeen[index] = dmaFD
	return nil
}

func (d *fakeDevice) Dequeue() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queued) == 0 {
		return 0, errors.New("fake: dequeue on empty queue")
	}
	index := d.queued[0]
	d.queued = d.queued[1:]
	d.dequeued = append(d.dequeued, index)
	return index, nil
}

func (d *fakeDevice) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streamOnErr != nil {
		return d.streamOnErr
	}
	d.onCalls++
	return nil
}

func (d *fakeDevice) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offCalls++
	return nil
}

func (d *fakeDevice) FD() int { return -1 }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

// snapshot helpers so assertions don't race the worker goroutine.

func (d *fakeDevice) queuedIndices() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.queued...)
}

func (d *fakeDevice) dequeuedIndices() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.dequeued...)
}

func (d *fakeDevice) enqueuedIndices() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.enqueued...)
}

func (d *fakeDevice) counts() (on, off, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onCalls, d.offCalls, d.closeCalls
}

// fakeWaiter feeds injected readiness events to the run loop. Sends on
// ready block until the loop receives them, which makes event sequencing
// deterministic in tests.
type fakeWaiter struct {
	ready   chan Ready
	wake    chan struct{}
	waiting chan struct{}
}

func newFakeWaiter() *fakeWaiter {
	return &fakeWaiter{
		ready:   make(chan Ready),
		wake:    make(chan struct{}, 1),
		waiting: make(chan struct{}, 64),
	}
}

func (w *fakeWaiter) Wait(timeout time.Duration) (Ready, error) {
	select {
	case w.waiting <- struct{}{}:
	default:
	}
	select {
	case r := <-w.ready:
		return r, nil
	case <-w.wake:
		return Ready{}, nil
	case <-time.After(timeout):
		return Ready{}, nil
	}
}

func (w *fakeWaiter) Wake() error {
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *fakeWaiter) Close() error { return nil }

func testSpec() StreamSpec {
	return StreamSpec{
		InputPath:   "/dev/video0",
		OutputPath:  "/dev/video1",
		ExportSide:  ExportInput,
		TargetFPS:   -1,
		BufferCount: 4,
		Width:       640,
		Height:      480,
		PixelFormat: 0x56595559, // YUYV
	}
}

// newTestStream wires a stream to the given fakes. The opener records role
// and export assignment on the fakes so tests can assert on them.
func newTestStream(t *testing.T, spec StreamSpec, in, out *fakeDevice, w Waiter, opts *StreamOptions) *Stream {
	t.Helper()

	open := func(path string, role Role, export bool) (Device, error) {
		d := in
		if role == RoleOutput {
			d = out
		}
		d.mu.Lock()
		d.path = path
		d.role = role
		d.export = export
		d.mu.Unlock()
		return d, nil
	}

	if opts == nil {
		opts = &StreamOptions{}
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 100 * time.Millisecond
	}
	if opts.NewWaiter == nil {
		opts.NewWaiter = func(inFD, outFD int) (Waiter, error) { return w, nil }
	}

	s, err := NewStream(spec, open, opts)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
