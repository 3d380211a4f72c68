// Command shuttle relays video frames between pairs of V4L2 devices using
// zero-copy dmabuf hand-off, optionally paced to a target frame rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zsiec/shuttle/config"
	"github.com/zsiec/shuttle/relay"
)

var version = "dev"

type specList []string

func (s *specList) String() string { return strings.Join(*s, " ") }

func (s *specList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var specs specList
	flag.Var(&specs, "s", "stream spec in:out@{i|o}@fps:num_buf:w,h:fourcc (repeatable, e.g. /dev/video0:/dev/video1@o@5:4:640,480:YUYV)")
	failFast := flag.Bool("failfast", true, "abort all streams if any stream fails setup")
	stopAll := flag.Bool("stopall", false, "stop every stream when one fails at runtime")
	flag.Parse()

	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "no streams configured; pass at least one -s spec")
		flag.Usage()
		os.Exit(2)
	}

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := settings.SlogLevel()
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	open := newDeviceOpener(slog.Default())

	streams := make([]*relay.Stream, 0, len(specs))
	for _, arg := range specs {
		spec, err := config.ParseStream(arg)
		if err != nil {
			slog.Error("invalid stream spec", "spec", arg, "error", err)
			os.Exit(2)
		}
		s, err := relay.NewStream(spec, open, &relay.StreamOptions{
			PollTimeout: settings.PollTimeout,
		})
		if err != nil {
			slog.Error("invalid stream spec", "spec", arg, "error", err)
			os.Exit(2)
		}
		streams = append(streams, s)
	}

	mgr := relay.NewManager(streams, &relay.ManagerOptions{
		FailFast:       *failFast,
		StopAllOnError: *stopAll,
	})
	defer mgr.Close()

	slog.Info("shuttle starting", "version", version, "streams", len(streams))

	if err := mgr.Setup(); err != nil {
		if *failFast {
			slog.Error("setup failed", "error", err)
			os.Exit(1)
		}
		slog.Warn("some streams failed setup and were skipped", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		mgr.RequestStop()
	}()

	mgr.Start(ctx)

	if err := mgr.Wait(); err != nil {
		slog.Error("relay error", "error", err)
		os.Exit(1)
	}
}
