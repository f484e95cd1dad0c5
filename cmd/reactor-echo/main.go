//go:build linux

// Command reactor-echo is a TCP echo server, running one reactor System per
// worker thread, each accepting from its own SO_REUSEPORT listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/config"
	"github.com/joeycumines/go-reactor/sockets"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet(`reactor-echo`, flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP(`config`, `c`, ``, `path to a YAML config file`)
	listen := flags.StringP(`listen`, `l`, ``, `listen address, overrides the config`)
	threads := flags.IntP(`threads`, `t`, 0, `number of worker threads, overrides the config`)
	logLevel := flags.String(`log-level`, ``, `log level, overrides the config`)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed(`listen`) {
		cfg.Listen = *listen
	}
	if flags.Changed(`threads`) {
		cfg.Server.Threads = *threads
	}
	if flags.Changed(`log-level`) {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(cfg.Level()),
	).Logger()

	return serve(ctx, cfg, logger, nil)
}

// serve runs cfg.Server.Threads workers until ctx is canceled, or any of
// them fails. The first worker binds cfg.Listen, and the rest bind the
// address it resolved to. If non-nil, listening is called with that
// address, once every worker is listening.
func serve(ctx context.Context, cfg *config.Config, logger *logiface.Logger[logiface.Event], listening func(addr net.Addr)) error {
	g, ctx := errgroup.WithContext(ctx)

	bound := make(chan net.Addr, cfg.Server.Threads)
	var addr net.Addr
	for i := 0; i < cfg.Server.Threads; i++ {
		target := cfg.Listen
		if addr != nil {
			target = addr.String()
		}
		g.Go(func() error {
			return worker(ctx, cfg, logger.Clone().Int(`thread`, i).Logger(), target, bound)
		})
		select {
		case <-ctx.Done():
			return ignoreCanceled(g.Wait())
		case a := <-bound:
			if addr == nil {
				addr = a
			}
		}
	}

	logger.Info().
		Str(`addr`, addr.String()).
		Int(`threads`, cfg.Server.Threads).
		Log(`listening`)
	if listening != nil {
		listening(addr)
	}

	return ignoreCanceled(g.Wait())
}

// worker runs a single System, locked to the calling goroutine's thread.
func worker(ctx context.Context, cfg *config.Config, logger *logiface.Logger[logiface.Event], addr string, bound chan<- net.Addr) error {
	sys, err := reactor.Builder(cfg.Options(logger)...).Finish()
	if err != nil {
		return err
	}
	defer sys.Shutdown()

	listener, err := sockets.ListenTCP(sys, addr, cfg.Server.Backlog)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := newServer(sys, listener, logger, cfg.Server.BufferSize)
	defer srv.Close()

	bound <- listener.Addr()

	return reactor.Start(ctx, sys, srv.Reactor())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
