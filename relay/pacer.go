package relay

import (
	"context"
	"time"
)

// Pacer enforces a minimum wall-clock spacing between successive
// input-to-output hand-offs to approximate a target frame rate. A
// non-positive rate selects free run: Wait never sleeps.
type Pacer struct {
	interval time.Duration
	last     time.Time
}

// NewPacer derives the minimum inter-frame interval from fps.
func NewPacer(fps int) *Pacer {
	p := &Pacer{}
	if fps > 0 {
		p.interval = time.Second / time.Duration(fps)
	}
	return p
}

// Interval returns the minimum spacing, or zero in free run.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Wait sleeps for whatever remains of the interval since the previous
// hand-off, observing ctx so a stop request interrupts the sleep. When the
// device is already slower than the target rate no delay is added.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	if !p.last.IsZero() {
		if d := p.interval - time.Since(p.last); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	p.last = time.Now()
	return nil
}
