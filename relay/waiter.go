package relay

import "time"

// Ready reports which directions of a stream have a completed buffer
// available to dequeue. The zero value means the wait timed out.
type Ready struct {
	In  bool // capture side has a filled buffer
	Out bool // output side has returned a buffer
}

// Waiter blocks a stream worker until either direction is ready, a bounded
// timeout elapses, or Wake is called. Wake must be safe to call from
// another goroutine while a Wait is pending; a woken Wait returns a zero
// Ready so the worker re-checks its stop condition.
type Waiter interface {
	Wait(timeout time.Duration) (Ready, error)
	Wake() error
	Close() error
}

// WaiterFactory builds the Waiter for a stream's two device descriptors.
// Tests inject channel-driven fakes; production uses the poll-based waiter.
type WaiterFactory func(inFD, outFD int) (Waiter, error)
