package relay

import (
	"errors"
	"fmt"
)

// ExportSide selects which of a stream's two devices exports buffer memory;
// the peer imports the exported handles index for index.
type ExportSide int

const (
	// ExportInput makes the capture device allocate and export the pool.
	ExportInput ExportSide = iota
	// ExportOutput makes the output device allocate and export the pool.
	ExportOutput
)

func (e ExportSide) String() string {
	if e == ExportInput {
		return "input"
	}
	return "output"
}

// StreamSpec is the validated description of one relay stream, produced by
// an external collaborator (CLI or config parsing) before the core is
// invoked. The core never parses raw argument strings.
type StreamSpec struct {
	InputPath   string
	OutputPath  string
	ExportSide  ExportSide
	TargetFPS   int // <= 0 means free run: no pacing delay is ever inserted
	BufferCount uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32 // packed four-character code
}

// Validate checks the spec for fields the engine cannot work without.
func (s StreamSpec) Validate() error {
	var errs []error
	if s.InputPath == "" {
		errs = append(errs, errors.New("input path is empty"))
	}
	if s.OutputPath == "" {
		errs = append(errs, errors.New("output path is empty"))
	}
	if s.BufferCount == 0 {
		errs = append(errs, errors.New("buffer count must be at least 1"))
	}
	if s.Width == 0 || s.Height == 0 {
		errs = append(errs, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height))
	}
	if s.PixelFormat == 0 {
		errs = append(errs, errors.New("pixel format is not set"))
	}
	if s.ExportSide != ExportInput && s.ExportSide != ExportOutput {
		errs = append(errs, fmt.Errorf("invalid export side %d", s.ExportSide))
	}
	if len(errs) > 0 {
		return fmt.Errorf("relay: invalid stream spec: %w", errors.Join(errs...))
	}
	return nil
}
