// Package metrics exposes Prometheus collectors for the backend clients.
// A nil *Metrics is valid and records nothing, so clients can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "racebot"

// Metrics bundles every collector the daemon records.
type Metrics struct {
	requestAttempts   *prometheus.CounterVec
	requestRetries    prometheus.Counter
	requestOutcomes   *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	realtimeConnects  *prometheus.CounterVec
	realtimeReconnect *prometheus.CounterVec
	realtimeEvents    *prometheus.CounterVec
	realtimeConnected prometheus.Gauge
	realtimeDrops     prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. If reg is also a
// prometheus.Gatherer, Handler serves it; otherwise the default gatherer is
// used.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "attempts_total",
			Help:      "HTTP attempts issued to the racing backend, by method and attempt number.",
		}, []string{"method", "attempt"}),
		requestRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "retries_total",
			Help:      "Requests retried after the first attempt timed out.",
		}),
		requestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "envelopes_total",
			Help:      "Envelopes returned to callers, by method and success flag.",
		}, []string{"method", "success"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Wall time of a logical request including any retry.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		realtimeConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "handshakes_total",
			Help:      "Realtime handshakes, by result.",
		}, []string{"result"}),
		realtimeReconnect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Reconnect cycles after an unexpected drop, by outcome.",
		}, []string{"outcome"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Inbound realtime events, by event name.",
		}, []string{"event"}),
		realtimeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "1 while a realtime session is live.",
		}),
		realtimeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "disconnects_total",
			Help:      "Realtime sessions that ended, deliberately or not.",
		}),
	}

	reg.MustRegister(
		m.requestAttempts,
		m.requestRetries,
		m.requestOutcomes,
		m.requestDuration,
		m.realtimeConnects,
		m.realtimeReconnect,
		m.realtimeEvents,
		m.realtimeConnected,
		m.realtimeDrops,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Attempt records one HTTP attempt.
func (m *Metrics) Attempt(method string, attempt int) {
	if m == nil {
		return
	}
	label := "first"
	if attempt > 1 {
		label = "retry"
		m.requestRetries.Inc()
	}
	m.requestAttempts.WithLabelValues(method, label).Inc()
}

// Envelope records the outcome handed back to a caller.
func (m *Metrics) Envelope(method string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	s := "false"
	if success {
		s = "true"
	}
	m.requestOutcomes.WithLabelValues(method, s).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handshake records a realtime handshake result.
func (m *Metrics) Handshake(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.realtimeConnects.WithLabelValues("ok").Inc()
		m.realtimeConnected.Set(1)
		return
	}
	m.realtimeConnects.WithLabelValues("error").Inc()
}

// Disconnected marks the realtime session as down. Call it once per
// session that actually existed.
func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.realtimeConnected.Set(0)
	m.realtimeDrops.Inc()
}

// Reconnect records the outcome of a reconnect cycle ("recovered" or
// "gave_up").
func (m *Metrics) Reconnect(outcome string) {
	if m == nil {
		return
	}
	m.realtimeReconnect.WithLabelValues(outcome).Inc()
}

// Event records one inbound realtime event.
func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.realtimeEvents.WithLabelValues(name).Inc()
}
