package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ManagerOptions tunes the manager's failure policies.
type ManagerOptions struct {
	// Log is the base logger; nil means slog.Default().
	Log *slog.Logger
	// FailFast makes Setup abort and unwind every stream on the first
	// setup failure. When false, failed streams are reported and skipped
	// and the remaining streams still run.
	FailFast bool
	// StopAllOnError escalates a single stream's runtime failure to a stop
	// of every stream. The default isolates the failure: the affected
	// stream tears down cleanly and the others keep running.
	StopAllOnError bool
	// OnStreamError is invoked whenever a stream's run loop fails, before
	// any escalation, so the caller observes the event either way.
	OnStreamError func(id string, err error)
}

// Manager owns the configured streams and coordinates their workers: one
// goroutine per stream, started together, stopped together through a
// single explicit cancellation shared by every worker.
type Manager struct {
	log      *slog.Logger
	opts     ManagerOptions
	streams  []*Stream
	runnable []*Stream

	mu            sync.Mutex
	cancel        context.CancelFunc
	group         *errgroup.Group
	stopRequested bool
}

// NewManager creates a manager over streams. Nil opts select the defaults:
// skip failed setups, isolate runtime failures.
func NewManager(streams []*Stream, opts *ManagerOptions) *Manager {
	if opts == nil {
		opts = &ManagerOptions{}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "manager"),
		opts:    *opts,
		streams: streams,
	}
}

// Streams returns every stream the manager owns, including ones whose
// setup failed.
func (m *Manager) Streams() []*Stream { return m.streams }

// StatsAll returns a snapshot for every managed stream.
func (m *Manager) StatsAll() []Stats {
	out := make([]Stats, len(m.streams))
	for i, s := range m.streams {
		out[i] = s.Stats()
	}
	return out
}

// Setup configures every stream. Under FailFast the first failure unwinds
// all previously-configured streams and is returned alone; otherwise every
// failure is reported, the offending streams are excluded from Start, and
// the joined errors are returned alongside a usable manager.
func (m *Manager) Setup() error {
	var errs []error
	m.runnable = m.runnable[:0]

	for _, s := range m.streams {
		if err := s.Setup(); err != nil {
			m.log.Error("stream setup failed",
				"stream", s.ID(), "in", s.Spec().InputPath, "out", s.Spec().OutputPath,
				"error", err,
			)
			if m.opts.FailFast {
				for _, r := range m.runnable {
					if cerr := r.Close(); cerr != nil {
						m.log.Warn("unwind close failed", "stream", r.ID(), "error", cerr)
					}
				}
				m.runnable = nil
				return err
			}
			errs = append(errs, err)
			continue
		}
		m.runnable = append(m.runnable, s)
	}
	return errors.Join(errs...)
}

// Start spawns one worker per configured stream. The context passed here
// is the only stop signal the workers share; external shutdown triggers
// (signals) call RequestStop rather than reaching global state.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	if m.stopRequested {
		m.cancel()
	}
	g, gctx := errgroup.WithContext(ctx)
	m.group = g

	for _, s := range m.runnable {
		s := s
		g.Go(func() error {
			err := s.Run(gctx)
			if err != nil {
				m.log.Error("stream failed", "stream", s.ID(), "error", err)
				if m.opts.OnStreamError != nil {
					m.opts.OnStreamError(s.ID(), err)
				}
				if m.opts.StopAllOnError {
					return err
				}
			}
			return nil
		})
	}
	m.log.Info("workers started", "streams", len(m.runnable))
}

// RequestStop signals every worker to leave its readiness wait at the next
// opportunity and proceed to teardown. Safe to call more than once and
// before Start.
func (m *Manager) RequestStop() {
	m.mu.Lock()
	m.stopRequested = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every worker has completed teardown and exited. It
// returns the first escalated runtime error, if any.
func (m *Manager) Wait() error {
	m.mu.Lock()
	g := m.group
	m.mu.Unlock()
	if g == nil {
		return nil
	}
	err := g.Wait()
	m.log.Info("all workers exited")
	return err
}

// Close releases every stream's devices and pool handles. Call after Wait.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
