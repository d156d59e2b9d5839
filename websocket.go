package main

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 30 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 512

	closeText = "Server shutting down"
)

// pingPeriod must be less than pongWait.
func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}

type wsLimits struct {
	writeWait      time.Duration
	pongWait       time.Duration
	maxMessageSize int64
}

func defaultWsLimits() wsLimits {
	return wsLimits{
		writeWait:      defaultWriteWait,
		pongWait:       defaultPongWait,
		maxMessageSize: defaultMaxMessageSize,
	}
}

type websocketManager interface {
	wsSetReadLimit()
	wsSetReadDeadline()
	wsSetPongHandler()
	wsReadMessage() (int, []byte, error)
	wsSetWriteDeadline()
	wsWriteMessage(int, []byte) error
	wsWriteClose(code int, text string)
	wsClose()
}

type websocketInteractor struct {
	ws     *websocket.Conn
	limits wsLimits
}

func (w websocketInteractor) wsSetReadLimit() {
	w.ws.SetReadLimit(w.limits.maxMessageSize)
}

func (w websocketInteractor) wsSetReadDeadline() {
	w.ws.SetReadDeadline(time.Now().Add(w.limits.pongWait))
}

func (w websocketInteractor) wsSetPongHandler() {
	w.ws.SetPongHandler(func(s string) error { w.wsSetReadDeadline(); return nil })
}

func (w websocketInteractor) wsClose() {
	w.ws.Close()
}

// WriteControl may run concurrently with the writer goroutine.
func (w websocketInteractor) wsWriteClose(code int, text string) {
	w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(w.limits.writeWait))
}

func (w websocketInteractor) wsReadMessage() (messageType int, p []byte, err error) {
	return w.ws.ReadMessage()
}

func (w websocketInteractor) wsSetWriteDeadline() {
	w.ws.SetWriteDeadline(time.Now().Add(w.limits.writeWait))
}

func (w websocketInteractor) wsWriteMessage(messageType int, payload []byte) error {
	return w.ws.WriteMessage(messageType, payload)
}
