package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const defaultMaxRequestBytes = 64 << 10

type handlerOptions struct {
	origin          string
	limits          wsLimits
	maxRequestBytes int64
}

func newHandler(h *hub, pings *mTicker, opts handlerOptions) http.Handler {
	if opts.maxRequestBytes <= 0 {
		opts.maxRequestBytes = defaultMaxRequestBytes
	}

	handler := mux.NewRouter()

	// Devices
	handler.Path("/ws").Methods("GET").Handler(newWsHandler(h, pings, opts.origin, opts.limits))

	// Controllers
	handler.Path("/send").Methods("POST").Handler(postHandler{h: h, maxBytes: opts.maxRequestBytes})

	handler.Path("/metrics").Methods("GET").Handler(metricsHandler{m: m})
	handler.Path("/").Methods("GET").Handler(healthHandler{})

	return handler
}

type wsHandler struct {
	h        *hub
	pings    *mTicker
	limits   wsLimits
	upgrader *websocket.Upgrader
}

func newWsHandler(h *hub, pings *mTicker, origin string, limits wsLimits) wsHandler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return origin == "" || checkOrigin(r, origin)
		},
	}
	return wsHandler{h: h, pings: pings, limits: limits, upgrader: upgrader}
}

// checkOrigin accepts requests without an Origin header (devices are not
// browsers) and requests whose Origin matches scheme://host[:port].
func checkOrigin(r *http.Request, origin string) bool {
	o := r.Header.Get("Origin")
	if o == "" {
		return true
	}
	u, err := url.Parse(o)
	if err != nil {
		return false
	}
	return u.Scheme+"://"+u.Host == origin
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := wsh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "handlers").Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	c := newConnection(websocketInteractor{ws: ws, limits: wsh.limits}, wsh.h, wsh.pings)
	c.run()
}

type postHandler struct {
	h        *hub
	maxBytes int64
}

type sendResponse struct {
	OK     bool   `json:"ok"`
	SentTo int    `json:"sent_to,omitempty"`
	Pruned int    `json:"pruned,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ph postHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ph.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendBadRequestError(w, http.StatusRequestEntityTooLarge, errMessageTooLarge.Error())
			return
		}
		sendBadRequestError(w, http.StatusBadRequest, "unable to read POST body")
		return
	}
	msg, err := parseRequestMessage(r.Header.Get("Content-Type"), body)
	if err != nil {
		sendBadRequestError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A controller hanging up must not turn into failed device sends.
	res := ph.h.relay(context.WithoutCancel(r.Context()), msg)
	if res.Sent == 0 {
		writeJSON(w, http.StatusServiceUnavailable, sendResponse{OK: false, Pruned: res.Pruned, Error: undeliveredReason(res)})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{OK: true, SentTo: res.Sent, Pruned: res.Pruned})
}

type healthHandler struct{}

func (healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK\n"))
}

func sendBadRequestError(w http.ResponseWriter, status int, str string) {
	incr("controller.malformed", 1)
	writeJSON(w, status, sendResponse{OK: false, Error: str})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("module", "handlers").Msg("write response")
	}
}
