package messaging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// BusMetrics collects Prometheus metrics for event publishing and handling.
type BusMetrics struct {
	published       *prometheus.CounterVec
	handled         *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
}

// NewBusMetrics creates event bus metrics and registers them with the
// given registerer. Pass prometheus.DefaultRegisterer in production.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progression",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of published domain events.",
		}, []string{"event_type"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "progression",
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Total number of handled domain events.",
		}, []string{"event_type", "status"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "progression",
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "progression",
			Subsystem: "events",
			Name:      "dispatch_queue_depth",
			Help:      "Events waiting in dispatcher shard queues.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.handled, m.handlerDuration, m.queueDepth)
	}
	return m
}

// RecordPublish records a published event.
func (m *BusMetrics) RecordPublish(eventType shared.EventType) {
	m.published.WithLabelValues(string(eventType)).Inc()
}

// RecordHandle records one handler execution.
func (m *BusMetrics) RecordHandle(eventType shared.EventType, d time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.handled.WithLabelValues(string(eventType), status).Inc()
	m.handlerDuration.WithLabelValues(string(eventType)).Observe(d.Seconds())
}

// QueueDepthAdd adjusts the dispatch queue depth gauge.
func (m *BusMetrics) QueueDepthAdd(delta float64) {
	m.queueDepth.Add(delta)
}
