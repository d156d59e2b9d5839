package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errConnClosed = errors.New("connection closed")

// connection is a device attached over a websocket.
type connection struct {
	id        string
	w         websocketManager
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	h         *hub
	pings     *mTicker
}

func newConnection(w websocketManager, h *hub, pings *mTicker) *connection {
	return &connection{
		id:    uuid.NewString(),
		w:     w,
		queue: make(chan []byte, 256),
		done:  make(chan struct{}),
		h:     h,
		pings: pings,
	}
}

func (c *connection) String() string {
	return c.id
}

// run blocks until the device goes away.
func (c *connection) run() {
	c.h.deviceConnected(c)
	defer c.h.deviceDisconnected(c)

	sub := c.pings.subscribe()
	defer c.pings.unsubscribe(sub)

	go c.writer(sub.tick)
	c.reader()
}

// send queues msg for the writer goroutine. It fails once the connection is
// closed or when ctx expires before there is room in the buffer.
func (c *connection) send(ctx context.Context, msg []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.queue <- msg:
		return nil
	default:
	}
	select {
	case c.queue <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.w.wsWriteClose(websocket.CloseGoingAway, closeText)
		c.w.wsClose()
	})
}

func (c *connection) reader() {
	defer c.close()
	c.w.wsSetReadLimit()
	c.w.wsSetReadDeadline()
	c.w.wsSetPongHandler()
	for {
		if err := c.readMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "conn").Str("device", c.id).Msg("read error")
			}
			return
		}
	}
}

// Devices do not publish; anything they send is only logged.
func (c *connection) readMessage() error {
	messageType, message, err := c.w.wsReadMessage()
	if err != nil {
		return err
	}
	incr("conn.recv", 1)
	if messageType == websocket.TextMessage {
		log.Info().Str("module", "conn").Str("device", c.id).Str("text", string(message)).Msg("from device")
	}
	return nil
}

func (c *connection) writer(ticks <-chan time.Time) {
	defer c.close()
	for {
		select {
		case message := <-c.queue:
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("module", "conn").Str("device", c.id).Msg("write error")
				return
			}
			incr("conn.send", 1)
		case _, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
