package relay

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// devicePoller multiplexes readiness over the two device descriptors plus
// an eventfd wake handle, so a stop request interrupts a pending wait
// without waiting out the full poll timeout.
type devicePoller struct {
	fds [3]unix.PollFd

	mu      sync.Mutex // serializes Wake against Close
	eventFD int
}

// newDevicePoller builds the production Waiter for a stream: POLLIN on the
// capture device, POLLOUT on the output device, POLLIN on the wake eventfd.
func newDevicePoller(inFD, outFD int) (Waiter, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("relay: eventfd: %w", err)
	}
	return &devicePoller{
		fds: [3]unix.PollFd{
			{Fd: int32(inFD), Events: unix.POLLIN},
			{Fd: int32(outFD), Events: unix.POLLOUT},
			{Fd: int32(efd), Events: unix.POLLIN},
		},
		eventFD: efd,
	}, nil
}

func (p *devicePoller) Wait(timeout time.Duration) (Ready, error) {
	for i := range p.fds {
		p.fds[i].Revents = 0
	}

	n, err := unix.Poll(p.fds[:], int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return Ready{}, nil
		}
		return Ready{}, fmt.Errorf("relay: poll: %w", err)
	}
	if n == 0 {
		return Ready{}, nil
	}

	if p.fds[2].Revents&unix.POLLIN != 0 {
		// Drain the wake counter and report no readiness; the worker
		// re-checks its stop condition next.
		var buf [8]byte
		_, _ = unix.Read(int(p.fds[2].Fd), buf[:])
		return Ready{}, nil
	}

	const bad = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
	if ev := p.fds[0].Revents | p.fds[1].Revents; ev&bad != 0 {
		return Ready{}, fmt.Errorf("relay: poll: device error events 0x%x", ev&bad)
	}

	return Ready{
		In:  p.fds[0].Revents&unix.POLLIN != 0,
		Out: p.fds[1].Revents&unix.POLLOUT != 0,
	}, nil
}

// Wake adds 1 to the eventfd counter (host-endian uint64). A Wake that
// arrives after Close is a no-op.
func (p *devicePoller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eventFD < 0 {
		return nil
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.eventFD, one[:]); err != nil {
		return fmt.Errorf("relay: wake: %w", err)
	}
	return nil
}

func (p *devicePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.eventFD < 0 {
		return nil
	}
	fd := p.eventFD
	p.eventFD = -1
	return unix.Close(fd)
}
