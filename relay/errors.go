package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors for stream setup and runtime handling, matched with
// errors.Is.
var (
	ErrCapabilityUnsupported = errors.New("relay: device does not support required role")
	ErrNotConfigured         = errors.New("relay: stream has not completed setup")
	ErrAlreadyConfigured     = errors.New("relay: stream setup already ran")
	ErrPoolExhausted         = errors.New("relay: buffer index outside pool")
)

// SetupError reports a failure during the CONFIGURED phase. Streams that
// fail setup never enter the running state. It records which device and
// operation failed so the caller can diagnose per-stream.
type SetupError struct {
	Device string
	Op     string
	Err    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("relay: setup %s on %s: %v", e.Op, e.Device, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ShortfallError reports a partial buffer allocation. Partial grants are
// never silently accepted: the pool size is a stream-wide constant.
type ShortfallError struct {
	Device    string
	Requested uint32
	Granted   uint32
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("relay: %s allocated only %d of %d buffers", e.Device, e.Granted, e.Requested)
}

// IOError reports a device operation failure during the run phase. The
// affected stream is torn down cleanly; escalation beyond that stream is
// the caller's policy.
type IOError struct {
	Device string
	Op     string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("relay: %s on %s: %v", e.Op, e.Device, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
