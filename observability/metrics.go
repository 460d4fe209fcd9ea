package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	epoch      prometheus.Gauge
	events     *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Engine returns the lazily-initialised metrics registry tracking module
// engine operations.
func Engine() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vetoken",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by module, operation, and outcome.",
			}, []string{"module", "op", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vetoken",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "op"}),
			epoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vetoken",
				Subsystem: "engine",
				Name:      "current_epoch",
				Help:      "The protocol epoch at the last observed operation.",
			}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vetoken",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Count of emitted protocol events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.duration,
			engineRegistry.epoch,
			engineRegistry.events,
		)
	})
	return engineRegistry
}

// Observe records one engine operation and its latency.
func (m *engineMetrics) Observe(module, op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(module, op, outcome).Inc()
	m.duration.WithLabelValues(module, op).Observe(duration.Seconds())
}

// SetEpoch publishes the current protocol epoch.
func (m *engineMetrics) SetEpoch(e uint64) {
	if m == nil {
		return
	}
	m.epoch.Set(float64(e))
}

// RecordEvent counts one emitted protocol event by type.
func (m *engineMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	wsClients prometheus.Gauge
	wsEvents  prometheus.Counter
}

// RPC returns the lazily-initialised metrics registry for the HTTP API.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vetoken",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vetoken",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vetoken",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
			}, []string{"route"}),
			wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vetoken",
				Subsystem: "rpc",
				Name:      "ws_clients",
				Help:      "Number of connected event-stream clients.",
			}),
			wsEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vetoken",
				Subsystem: "rpc",
				Name:      "ws_events_total",
				Help:      "Total events fanned out to stream clients.",
			}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.latency,
			rpcRegistry.throttles,
			rpcRegistry.wsClients,
			rpcRegistry.wsEvents,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an HTTP request.
func (m *rpcMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts one rate-limited request.
func (m *rpcMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// WSClientConnected adjusts the connected-client gauge.
func (m *rpcMetrics) WSClientConnected(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}

// RecordWSEvent counts one event delivered to a stream client.
func (m *rpcMetrics) RecordWSEvent() {
	if m == nil {
		return
	}
	m.wsEvents.Inc()
}
