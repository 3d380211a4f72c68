// Package config turns the external stream description grammar and process
// environment into the validated structures the relay core consumes.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/zsiec/shuttle/relay"
	"github.com/zsiec/shuttle/v4l2"
)

// Settings are process-level tunables read from SHUTTLE_* environment
// variables.
type Settings struct {
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	PollTimeout time.Duration `envconfig:"POLL_TIMEOUT" default:"5s"`
}

// Load reads Settings from the environment.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("shuttle", &s); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

// SlogLevel maps the configured level name onto a slog level, defaulting
// to info for unknown names.
func (s Settings) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseStream parses one stream description of the form
//
//	in:out@expdev@fps:num_buf:w,h:fourcc
//
// for example /dev/video0:/dev/video1@o@5:4:640,480:YUYV: relay from
// video0 to video1, output side exports, 5 fps pacing, 4 buffers, 640x480
// YUYV. An fps of -1 selects free run.
func ParseStream(arg string) (relay.StreamSpec, error) {
	var spec relay.StreamSpec

	parts := strings.Split(arg, "@")
	if len(parts) != 3 {
		return spec, fmt.Errorf("config: %q: want in:out@expdev@fps:num_buf:w,h:fourcc", arg)
	}

	devs := strings.SplitN(parts[0], ":", 2)
	if len(devs) != 2 || devs[0] == "" || devs[1] == "" {
		return spec, fmt.Errorf("config: %q: device pair must be in:out", parts[0])
	}
	spec.InputPath = devs[0]
	spec.OutputPath = devs[1]

	switch parts[1] {
	case "i":
		spec.ExportSide = relay.ExportInput
	case "o":
		spec.ExportSide = relay.ExportOutput
	default:
		return spec, fmt.Errorf("config: %q: export device must be i or o", parts[1])
	}

	rest := strings.Split(parts[2], ":")
	if len(rest) != 4 {
		return spec, fmt.Errorf("config: %q: want fps:num_buf:w,h:fourcc", parts[2])
	}

	fps, err := strconv.Atoi(rest[0])
	if err != nil {
		return spec, fmt.Errorf("config: fps %q: %w", rest[0], err)
	}
	spec.TargetFPS = fps

	bufs, err := strconv.ParseUint(rest[1], 10, 32)
	if err != nil {
		return spec, fmt.Errorf("config: buffer count %q: %w", rest[1], err)
	}
	spec.BufferCount = uint32(bufs)

	dims := strings.Split(rest[2], ",")
	if len(dims) != 2 {
		return spec, fmt.Errorf("config: size %q: want w,h", rest[2])
	}
	w, err := strconv.ParseUint(dims[0], 10, 32)
	if err != nil {
		return spec, fmt.Errorf("config: width %q: %w", dims[0], err)
	}
	h, err := strconv.ParseUint(dims[1], 10, 32)
	if err != nil {
		return spec, fmt.Errorf("config: height %q: %w", dims[1], err)
	}
	spec.Width = uint32(w)
	spec.Height = uint32(h)

	fourcc, err := v4l2.ParseFourCC(rest[3])
	if err != nil {
		return spec, fmt.Errorf("config: %w", err)
	}
	spec.PixelFormat = uint32(fourcc)

	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}
