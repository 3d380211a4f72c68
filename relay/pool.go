package relay

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Pool is the fixed set of buffer handles shared index-for-index between a
// stream's two devices. The handle exported for index i by the exporting
// device is the one the peer imports for index i, unchanged for the
// stream's entire lifetime; handles are never reassigned after setup.
type Pool struct {
	handles   []int
	closeOnce sync.Once
}

// NewPool creates a pool of n unset handle slots.
func NewPool(n uint32) *Pool {
	handles := make([]int, n)
	for i := range handles {
		handles[i] = -1
	}
	return &Pool{handles: handles}
}

// SetHandle records the exported handle for index. Setting an index twice
// is rejected: that would break the index correlation between the two
// device queues.
func (p *Pool) SetHandle(index uint32, fd int) error {
	if int(index) >= len(p.handles) {
		return fmt.Errorf("%w: index %d, pool size %d", ErrPoolExhausted, index, len(p.handles))
	}
	if p.handles[index] != -1 {
		return fmt.Errorf("relay: handle for index %d already set", index)
	}
	p.handles[index] = fd
	return nil
}

// Handle returns the handle recorded for index, or -1 if the index is out
// of range or was never set.
func (p *Pool) Handle(index uint32) int {
	if int(index) >= len(p.handles) {
		return -1
	}
	return p.handles[index]
}

// Len returns the pool size fixed at setup.
func (p *Pool) Len() int { return len(p.handles) }

// Close releases every exported handle exactly once.
func (p *Pool) Close() error {
	var first error
	p.closeOnce.Do(func() {
		for i, fd := range p.handles {
			if fd < 0 {
				continue
			}
			p.handles[i] = -1
			if err := unix.Close(fd); err != nil && first == nil {
				first = fmt.Errorf("relay: close handle %d: %w", i, err)
			}
		}
	})
	return first
}
