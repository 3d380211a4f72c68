package relay

import (
	"testing"

	"golang.org/x/sys/unix"
)

func testFD(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	return fd
}

func TestPoolHandleFidelity(t *testing.T) {
	t.Parallel()

	p := NewPool(4)
	defer p.Close()

	fds := make([]int, 4)
	for i := range fds {
		fds[i] = testFD(t)
		if err := p.SetHandle(uint32(i), fds[i]); err != nil {
			t.Fatalf("SetHandle(%d): %v", i, err)
		}
	}

	for i, fd := range fds {
		if got := p.Handle(uint32(i)); got != fd {
			t.Errorf("Handle(%d): got %d, want %d", i, got, fd)
		}
	}
	if p.Len() != 4 {
		t.Errorf("Len: got %d, want 4", p.Len())
	}
}

func TestPoolRejectsReassignment(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	defer p.Close()

	fd := testFD(t)
	if err := p.SetHandle(0, fd); err != nil {
		t.Fatalf("SetHandle: %v", err)
	}
	other := testFD(t)
	defer unix.Close(other)
	if err := p.SetHandle(0, other); err == nil {
		t.Error("reassigning a set index must fail")
	}
	if got := p.Handle(0); got != fd {
		t.Errorf("Handle(0) after rejected reassignment: got %d, want %d", got, fd)
	}
}

func TestPoolOutOfRange(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	defer p.Close()

	if err := p.SetHandle(2, 0); err == nil {
		t.Error("SetHandle beyond pool size must fail")
	}
	if got := p.Handle(2); got != -1 {
		t.Errorf("Handle beyond pool size: got %d, want -1", got)
	}
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	p.SetHandle(0, testFD(t))
	p.SetHandle(1, testFD(t))

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := p.Handle(0); got != -1 {
		t.Errorf("Handle after Close: got %d, want -1", got)
	}
}
