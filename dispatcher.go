package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const defaultSendTimeout = 5 * time.Second

type broadcastResult struct {
	Sent   int
	Pruned int
}

// dispatcher fans a message out to every device in a registry snapshot.
// Delivery is at-most-once: a device whose send fails or times out is
// dropped from the registry and never retried.
type dispatcher struct {
	reg         *registry
	sendTimeout time.Duration
}

func newDispatcher(reg *registry, sendTimeout time.Duration) *dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &dispatcher{
		reg:         reg,
		sendTimeout: sendTimeout,
	}
}

func (d *dispatcher) broadcast(ctx context.Context, msg []byte) broadcastResult {
	incr("relay.messages", 1)
	targets := d.reg.snapshot()
	if len(targets) == 0 {
		incr("relay.undelivered", 1)
		return broadcastResult{}
	}

	errs := make([]error, len(targets))
	var wg conc.WaitGroup
	for i, dev := range targets {
		wg.Go(func() {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
			errs[i] = dev.send(sendCtx, msg)
		})
	}
	wg.Wait()

	// Prune only after every send has finished.
	var res broadcastResult
	for i, dev := range targets {
		if errs[i] == nil {
			res.Sent++
			continue
		}
		log.Warn().Err(errs[i]).Str("module", "dispatcher").Stringer("device", dev).Msg("send failed, pruning device")
		d.reg.remove(dev)
		dev.close()
		res.Pruned++
	}

	incr("relay.sent", int64(res.Sent))
	incr("relay.pruned", int64(res.Pruned))
	return res
}
