package main

import (
	"io"
	"net/http"
	"os"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

const defaultMetricsTick = 60 * time.Second

type metrics struct {
	log  io.Writer
	reg  gometrics.Registry
	tick time.Duration
}

var m = &metrics{
	log:  os.Stderr,
	reg:  gometrics.DefaultRegistry,
	tick: defaultMetricsTick,
}

func startMetrics(tick time.Duration) {
	if tick > 0 {
		m.tick = tick
	}
	m.start()
}

func finalMetrics() {
	m.writeOnce()
}

func incr(name string, i int64) {
	m.incr(name, i)
}

func decr(name string, i int64) {
	m.decr(name, i)
}

func (m *metrics) start() {
	go gometrics.WriteJSON(m.reg, m.tick, m.log)
}

func (m *metrics) writeOnce() {
	gometrics.WriteJSONOnce(m.reg, m.log)
}

func (m *metrics) incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m *metrics) decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

type metricsHandler struct {
	m *metrics
}

func (mh metricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	gometrics.WriteJSONOnce(mh.m.reg, w)
}
