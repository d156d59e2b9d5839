// Command wsrelay forwards controller messages to connected devices.
//
//	wsrelay --addr=:8765 --tcp-addr=:8766
//
// Everything is as ephemeral as can be. A message is sent to the devices
// connected at that moment (if any) and then forgotten. A device that
// misses a message never sees it.
//
// Devices connect by opening a websocket.
//
//	ws://localhost:8765/ws
//
// Controllers publish by POSTing JSON, a form or plain text.
//
//	curl localhost:8765/send -H 'Content-Type: application/json' -d '{"message":"open_door"}'
//	curl localhost:8765/send -d 'message=open_door'
//	curl localhost:8765/send -H 'Content-Type: text/plain' -d 'open_door'
//
// The reply tells how many devices got the message, or 503 when none did.
// With --tcp-addr set, controllers may also write one message per line to a
// raw TCP socket and read back "OK <n>" or "ERR <reason>" per line.
//
// The port of --addr can be overridden with $PORT for hosted deployments.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/httpdown"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "wsrelay:", err)
		os.Exit(2)
	}
	setupLogging(cfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
	log.Info().Msg("relay exited gracefully")
}

func setupLogging(cfg *config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
}

func run(cfg *config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startMetrics(cfg.MetricsTick)
	defer finalMetrics()

	h := newHub(cfg.SendTimeout)
	pings := newMTicker(pingPeriod(cfg.PongWait))
	defer pings.stop()

	// Prepare the stoppable HTTP server
	server := &http.Server{
		Addr: cfg.Addr,
		Handler: newHandler(h, pings, handlerOptions{
			origin:          cfg.Origin,
			limits:          cfg.wsLimits(),
			maxRequestBytes: cfg.MaxRequestBytes,
		}),
	}
	hd := &httpdown.HTTP{
		StopTimeout: cfg.StopTimeout,
		KillTimeout: cfg.KillTimeout,
	}
	hs, err := hd.ListenAndServe(server)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	log.Info().Str("module", "main").Str("addr", cfg.Addr).Msg("relay started")

	var ln net.Listener
	if cfg.TCPAddr != "" {
		ln, err = net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			hs.Stop()
			return fmt.Errorf("listen on %s: %w", cfg.TCPAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(hs.Wait)
	if ln != nil {
		tc := newTCPController(h, cfg.TCPIdleTimeout, int(cfg.MaxRequestBytes))
		g.Go(func() error { return tc.serve(gctx, ln) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("module", "main").Msg("shutting down")
		h.close()
		return hs.Stop()
	})
	return g.Wait()
}
