package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/shuttle/relay"
	"github.com/zsiec/shuttle/v4l2"
)

// newDeviceOpener adapts v4l2.Open to the relay engine's device factory,
// translating between the engine's shared Format and the kernel PixFormat
// and mapping the capability sentinel so callers can errors.Is against the
// relay taxonomy.
func newDeviceOpener(log *slog.Logger) relay.OpenFunc {
	return func(path string, role relay.Role, export bool) (relay.Device, error) {
		r := v4l2.RoleCapture
		if role == relay.RoleOutput {
			r = v4l2.RoleOutput
		}
		d, err := v4l2.Open(path, r, export, log)
		if err != nil {
			if errors.Is(err, v4l2.ErrCapability) {
				return nil, fmt.Errorf("%w: %w", relay.ErrCapabilityUnsupported, err)
			}
			return nil, err
		}
		return &v4l2Device{Device: d}, nil
	}
}

// v4l2Device narrows *v4l2.Device to the relay.Device interface; only
// Negotiate needs translation, the remaining methods match directly.
type v4l2Device struct {
	*v4l2.Device
}

func (d *v4l2Device) Negotiate(f *relay.Format) error {
	pf := v4l2.PixFormat{
		Width:       f.Width,
		Height:      f.Height,
		PixelFormat: v4l2.FourCC(f.PixelFormat),
	}
	if err := d.Device.Negotiate(&pf); err != nil {
		return err
	}
	f.Width = pf.Width
	f.Height = pf.Height
	f.PixelFormat = uint32(pf.PixelFormat)
	return nil
}
