package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// hub is what the listeners talk to. Device endpoints report connects and
// disconnects, controller endpoints relay messages.
type hub struct {
	registry   *registry
	dispatcher *dispatcher
}

func newHub(sendTimeout time.Duration) *hub {
	reg := newRegistry()
	return &hub{
		registry:   reg,
		dispatcher: newDispatcher(reg, sendTimeout),
	}
}

func (h *hub) deviceConnected(d device) {
	if h.registry.add(d) {
		log.Info().Str("module", "hub").Stringer("device", d).Int("devices", h.registry.size()).Msg("device connected")
	}
}

func (h *hub) deviceDisconnected(d device) {
	if h.registry.remove(d) {
		log.Info().Str("module", "hub").Stringer("device", d).Int("devices", h.registry.size()).Msg("device disconnected")
	}
}

func (h *hub) relay(ctx context.Context, msg []byte) broadcastResult {
	res := h.dispatcher.broadcast(ctx, msg)
	if res.Sent == 0 && res.Pruned == 0 {
		log.Warn().Str("module", "hub").Msg("no devices connected, message not forwarded")
		return res
	}
	log.Info().Str("module", "hub").Int("sent", res.Sent).Int("pruned", res.Pruned).Msg("message relayed")
	return res
}

// undeliveredReason explains a relay that reached no device.
func undeliveredReason(res broadcastResult) string {
	if res.Pruned > 0 {
		return "all devices failed"
	}
	return "no connected devices"
}

// close closes every registered device. Broadcasts still in flight finish
// against their own snapshot.
func (h *hub) close() {
	n := h.registry.closeAll()
	log.Info().Str("module", "hub").Int("devices", n).Msg("hub closed")
}
