package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const defaultTCPIdleTimeout = 60 * time.Second

// tcpController accepts newline-delimited controller messages over raw TCP.
// Every line is relayed and answered with one line:
//
//	OK <recipients>
//	ERR <reason>
//
// A line longer than maxLine is answered with an error and ends the
// connection.
type tcpController struct {
	h           *hub
	idleTimeout time.Duration
	maxLine     int
}

func newTCPController(h *hub, idleTimeout time.Duration, maxLine int) *tcpController {
	if idleTimeout <= 0 {
		idleTimeout = defaultTCPIdleTimeout
	}
	if maxLine <= 0 {
		maxLine = defaultMaxRequestBytes
	}
	return &tcpController{h: h, idleTimeout: idleTimeout, maxLine: maxLine}
}

// serve accepts on ln until ctx is done or ln fails. Open controller
// connections are closed when ctx is done.
func (tc *tcpController) serve(ctx context.Context, ln net.Listener) error {
	var wg conc.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	log.Info().Str("module", "tcp").Str("addr", ln.Addr().String()).Msg("controller listener started")
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("tcp accept: %w", err)
		}
		wg.Go(func() { tc.handle(ctx, nc) })
	}
}

func (tc *tcpController) handle(ctx context.Context, nc net.Conn) {
	id := uuid.NewString()
	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()
	defer nc.Close()

	logger := log.With().Str("module", "tcp").Str("controller", id).Str("remote", nc.RemoteAddr().String()).Logger()
	logger.Debug().Msg("controller connected")

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 4096), tc.maxLine)
	for {
		nc.SetReadDeadline(time.Now().Add(tc.idleTimeout))
		if !scanner.Scan() {
			err := scanner.Err()
			if errors.Is(err, bufio.ErrTooLong) {
				incr("controller.malformed", 1)
				nc.SetWriteDeadline(time.Now().Add(tc.idleTimeout))
				fmt.Fprintln(nc, "ERR "+errMessageTooLarge.Error())
				drain(nc)
				return
			}
			if err != nil && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("controller read ended")
			}
			return
		}
		reply := tc.relayLine(ctx, scanner.Text())
		nc.SetWriteDeadline(time.Now().Add(tc.idleTimeout))
		if _, err := fmt.Fprintln(nc, reply); err != nil {
			logger.Debug().Err(err).Msg("controller write failed")
			return
		}
	}
}

func (tc *tcpController) relayLine(ctx context.Context, line string) string {
	msg, err := parseLineMessage(line)
	if err != nil {
		incr("controller.malformed", 1)
		return "ERR " + err.Error()
	}
	res := tc.h.relay(context.WithoutCancel(ctx), msg)
	if res.Sent == 0 {
		return "ERR " + undeliveredReason(res)
	}
	return fmt.Sprintf("OK %d", res.Sent)
}

// drain half-closes nc and discards unread input so the reply is not lost
// to a reset when nc is closed.
func drain(nc net.Conn) {
	if cw, ok := nc.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	nc.SetReadDeadline(time.Now().Add(time.Second))
	io.Copy(io.Discard, nc)
}
