// Package relay implements the zero-copy buffer relay between two
// independently-opened video queues: device negotiation and pool setup, the
// export/import hand-off that lets one physical buffer back both queues,
// the poll-driven loop shuttling buffer ownership between them, frame-rate
// pacing, and per-stream lifecycle with cancellation-safe teardown.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultPollTimeout bounds the readiness wait. A wait that elapses with
// no readiness on either side is a stall: reported, not fatal.
const DefaultPollTimeout = 5 * time.Second

// State is a stream's lifecycle phase.
type State int32

const (
	StateNew State = iota
	StateConfigured
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StreamOptions tunes a stream; the zero value selects defaults.
type StreamOptions struct {
	// Log is the base logger; nil means slog.Default().
	Log *slog.Logger
	// PollTimeout bounds each readiness wait; zero means DefaultPollTimeout.
	PollTimeout time.Duration
	// NewWaiter overrides the poll-based readiness waiter, for tests.
	NewWaiter WaiterFactory
}

// Stats is a point-in-time snapshot of one stream's relay activity.
type Stats struct {
	ID              string `json:"id"`
	Input           string `json:"input"`
	Output          string `json:"output"`
	State           string `json:"state"`
	Width           uint32 `json:"width"`
	Height          uint32 `json:"height"`
	PixelFormat     uint32 `json:"pixelFormat"`
	FramesRelayed   int64  `json:"framesRelayed"`
	BuffersRecycled int64  `json:"buffersRecycled"`
	Stalls          int64  `json:"stalls"`
	UptimeMs        int64  `json:"uptimeMs"`
}

// Stream owns one capture device, one output device, and the buffer pool
// they share. Setup runs the one-time device negotiation; Run drives the
// relay loop on the calling goroutine until stopped or a device fails.
type Stream struct {
	id   string
	spec StreamSpec
	log  *slog.Logger

	open        OpenFunc
	newWaiter   WaiterFactory
	pollTimeout time.Duration

	in    Device
	out   Device
	pool  *Pool
	pacer *Pacer

	formatMu sync.Mutex
	format   Format

	state    atomic.Int32
	stopOnce sync.Once

	startedAtNs atomic.Int64
	relayed     atomic.Int64
	recycled    atomic.Int64
	stalls      atomic.Int64
}

// NewStream validates spec and builds an unconfigured stream. open supplies
// the device factory; nil options select the defaults.
func NewStream(spec StreamSpec, open OpenFunc, opts *StreamOptions) (*Stream, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, fmt.Errorf("relay: nil device opener")
	}
	if opts == nil {
		opts = &StreamOptions{}
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()

	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	newWaiter := opts.NewWaiter
	if newWaiter == nil {
		newWaiter = newDevicePoller
	}

	return &Stream{
		id:          id,
		spec:        spec,
		log:         log.With("stream", id, "in", spec.InputPath, "out", spec.OutputPath),
		open:        open,
		newWaiter:   newWaiter,
		pollTimeout: pollTimeout,
		pacer:       NewPacer(spec.TargetFPS),
	}, nil
}

// ID returns the stream's worker identity used in logs and events.
func (s *Stream) ID() string { return s.id }

// Spec returns the stream's originating spec.
func (s *Stream) Spec() StreamSpec { return s.spec }

// State returns the current lifecycle phase.
func (s *Stream) State() State { return State(s.state.Load()) }

// Format returns the geometry both devices agreed on: the zero value until
// Setup completes. Safe to call from any goroutine.
func (s *Stream) Format() Format {
	s.formatMu.Lock()
	defer s.formatMu.Unlock()
	return s.format
}

// Stats returns a snapshot of relay counters.
func (s *Stream) Stats() Stats {
	f := s.Format()
	st := Stats{
		ID:              s.id,
		Input:           s.spec.InputPath,
		Output:          s.spec.OutputPath,
		State:           s.State().String(),
		Width:           f.Width,
		Height:          f.Height,
		PixelFormat:     f.PixelFormat,
		FramesRelayed:   s.relayed.Load(),
		BuffersRecycled: s.recycled.Load(),
		Stalls:          s.stalls.Load(),
	}
	if ns := s.startedAtNs.Load(); ns > 0 {
		st.UptimeMs = time.Since(time.Unix(0, ns)).Milliseconds()
	}
	return st
}

// Setup performs the one-time CONFIGURED phase: opens and negotiates both
// devices against one shared format, requests the buffer pool on each side,
// exports every index on the exporting side, and primes all buffers into
// the input queue so the producer starts filling immediately. On failure
// every already-acquired resource is released and no device is streaming.
func (s *Stream) Setup() error {
	if s.State() != StateNew || s.in != nil {
		return ErrAlreadyConfigured
	}

	in, err := s.open(s.spec.InputPath, RoleCapture, s.spec.ExportSide == ExportInput)
	if err != nil {
		return &SetupError{Device: s.spec.InputPath, Op: "open", Err: err}
	}
	s.in = in

	out, err := s.open(s.spec.OutputPath, RoleOutput, s.spec.ExportSide == ExportOutput)
	if err != nil {
		s.releaseSetup()
		return &SetupError{Device: s.spec.OutputPath, Op: "open", Err: err}
	}
	s.out = out

	// Negotiate input first; the coerced result is what the output device
	// is asked for, so both observe the same geometry.
	f := Format{Width: s.spec.Width, Height: s.spec.Height, PixelFormat: s.spec.PixelFormat}
	if err := in.Negotiate(&f); err != nil {
		s.releaseSetup()
		return &SetupError{Device: in.Path(), Op: "negotiate", Err: err}
	}
	agreed := f
	if err := out.Negotiate(&f); err != nil {
		s.releaseSetup()
		return &SetupError{Device: out.Path(), Op: "negotiate", Err: err}
	}
	if f != agreed {
		s.releaseSetup()
		return &SetupError{Device: out.Path(), Op: "negotiate", Err: fmt.Errorf(
			"format disagreement: input settled on %dx%d %#x, output coerced to %dx%d %#x",
			agreed.Width, agreed.Height, agreed.PixelFormat,
			f.Width, f.Height, f.PixelFormat,
		)}
	}
	s.formatMu.Lock()
	s.format = f
	s.formatMu.Unlock()

	want := s.spec.BufferCount
	for _, d := range []Device{in, out} {
		granted, err := d.RequestBuffers(want)
		if err != nil {
			s.releaseSetup()
			return &SetupError{Device: d.Path(), Op: "request buffers", Err: err}
		}
		if granted < want {
			s.releaseSetup()
			return &ShortfallError{Device: d.Path(), Requested: want, Granted: granted}
		}
	}

	exporter := in
	if s.spec.ExportSide == ExportOutput {
		exporter = out
	}
	pool := NewPool(want)
	for i := uint32(0); i < want; i++ {
		fd, err := exporter.ExportBuffer(i)
		if err != nil {
			pool.Close()
			s.releaseSetup()
			return &SetupError{Device: exporter.Path(), Op: "export buffer", Err: err}
		}
		if err := pool.SetHandle(i, fd); err != nil {
			pool.Close()
			s.releaseSetup()
			return &SetupError{Device: exporter.Path(), Op: "export buffer", Err: err}
		}
	}
	s.pool = pool

	for i := uint32(0); i < want; i++ {
		if err := in.Enqueue(i, pool.Handle(i)); err != nil {
			pool.Close()
			s.releaseSetup()
			return &SetupError{Device: in.Path(), Op: "prime buffer", Err: err}
		}
	}

	s.state.Store(int32(StateConfigured))
	s.log.Info("stream configured",
		"width", f.Width, "height", f.Height,
		"buffers", want, "fps", s.spec.TargetFPS,
		"export", s.spec.ExportSide.String(),
	)
	return nil
}

// Run starts both queues and drives the relay loop until ctx is cancelled
// or a device operation fails. Both devices receive their stop call exactly
// once on every exit path before Run returns.
func (s *Stream) Run(ctx context.Context) error {
	if s.State() != StateConfigured {
		return ErrNotConfigured
	}

	w, err := s.newWaiter(s.in.FD(), s.out.FD())
	if err != nil {
		// Not a device fault: the waiter's own resources (eventfd) failed.
		return fmt.Errorf("relay: create waiter: %w", err)
	}
	defer w.Close()

	// Interrupt a pending readiness wait as soon as stop is requested. The
	// worker waits for this goroutine to exit before the deferred w.Close
	// runs, so Wake never touches a released waiter.
	watchStop := make(chan struct{})
	watchExited := make(chan struct{})
	go func() {
		defer close(watchExited)
		select {
		case <-ctx.Done():
			if err := w.Wake(); err != nil {
				s.log.Warn("wake failed", "error", err)
			}
		case <-watchStop:
		}
	}()
	defer func() {
		close(watchStop)
		<-watchExited
	}()

	defer s.shutdown()

	if err := s.in.StreamOn(); err != nil {
		return &IOError{Device: s.in.Path(), Op: "stream on", Err: err}
	}
	if err := s.out.StreamOn(); err != nil {
		return &IOError{Device: s.out.Path(), Op: "stream on", Err: err}
	}

	s.startedAtNs.Store(time.Now().UnixNano())
	s.state.Store(int32(StateRunning))
	s.log.Info("stream running")

	for {
		if ctx.Err() != nil {
			return nil
		}

		ready, err := w.Wait(s.pollTimeout)
		if err != nil {
			return &IOError{Device: s.spec.InputPath, Op: "wait", Err: err}
		}
		if ctx.Err() != nil {
			return nil
		}
		if !ready.In && !ready.Out {
			// Stall: neither side produced readiness within the bound.
			s.stalls.Add(1)
			s.log.Warn("no buffer readiness within timeout", "timeout", s.pollTimeout)
			continue
		}

		if ready.In {
			if err := s.pacer.Wait(ctx); err != nil {
				return nil
			}
			if err := s.relayForward(); err != nil {
				return err
			}
		}
		if ready.Out {
			if err := s.recycleBack(); err != nil {
				return err
			}
		}
	}
}

// relayForward moves one completed buffer from the capture queue to the
// output queue: same index, same handle, no copy.
func (s *Stream) relayForward() error {
	index, err := s.in.Dequeue()
	if err != nil {
		return &IOError{Device: s.in.Path(), Op: "dequeue", Err: err}
	}
	if err := s.out.Enqueue(index, s.pool.Handle(index)); err != nil {
		return &IOError{Device: s.out.Path(), Op: "enqueue", Err: err}
	}
	s.relayed.Add(1)
	return nil
}

// recycleBack returns one consumed buffer from the output queue to the
// capture queue for refill.
func (s *Stream) recycleBack() error {
	index, err := s.out.Dequeue()
	if err != nil {
		return &IOError{Device: s.out.Path(), Op: "dequeue", Err: err}
	}
	if err := s.in.Enqueue(index, s.pool.Handle(index)); err != nil {
		return &IOError{Device: s.in.Path(), Op: "enqueue", Err: err}
	}
	s.recycled.Add(1)
	return nil
}

// shutdown stops both device queues exactly once, regardless of how the
// run loop exited.
func (s *Stream) shutdown() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateStopping))
		if err := s.in.StreamOff(); err != nil {
			s.log.Warn("input stream off failed", "error", err)
		}
		if err := s.out.StreamOff(); err != nil {
			s.log.Warn("output stream off failed", "error", err)
		}
		s.state.Store(int32(StateStopped))
		s.log.Info("stream stopped",
			"relayed", s.relayed.Load(),
			"recycled", s.recycled.Load(),
			"stalls", s.stalls.Load(),
		)
	})
}

// Close releases the pool handles and device fds. Call after the worker
// has exited; safe on a partially set up or never-run stream.
func (s *Stream) Close() error {
	var errs []error
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range []Device{s.in, s.out} {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.in, s.out, s.pool = nil, nil, nil
	if len(errs) > 0 {
		return fmt.Errorf("relay: close stream %s: %w", s.id, errors.Join(errs...))
	}
	return nil
}

// releaseSetup unwinds partially-acquired devices after a setup failure.
func (s *Stream) releaseSetup() {
	for _, d := range []Device{s.in, s.out} {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil {
			s.log.Warn("close during setup unwind failed", "device", d.Path(), "error", err)
		}
	}
	s.in, s.out = nil, nil
}
