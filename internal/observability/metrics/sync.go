package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SyncMetrics struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	framesDropped    prometheus.Counter
	reconnectsTotal  prometheus.Counter
	uploadsTotal     *prometheus.CounterVec
	documentsInState *prometheus.GaugeVec
	batchDuration    prometheus.Histogram
}

func NewSyncMetrics(service string) *SyncMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Total inbound status events by type.",
		},
		[]string{"service", "type"},
	)
	framesDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "events",
			Name:      "frames_dropped_total",
			Help:      "Total inbound frames discarded as malformed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	reconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "events",
			Name:      "reconnects_total",
			Help:      "Total successful channel reconnections.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "uploads",
			Name:      "total",
			Help:      "Total upload attempts by outcome.",
		},
		[]string{"service", "status"},
	)
	documentsInState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docsync",
			Subsystem: "registry",
			Name:      "documents",
			Help:      "Tracked documents by lifecycle state.",
		},
		[]string{"service", "state"},
	)
	batchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docsync",
			Subsystem: "analysis",
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch start to the last terminal document.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		eventsTotal,
		framesDropped,
		reconnectsTotal,
		uploadsTotal,
		documentsInState,
		batchDuration,
	)

	return &SyncMetrics{
		registry:         registry,
		eventsTotal:      eventsTotal,
		framesDropped:    framesDropped,
		reconnectsTotal:  reconnectsTotal,
		uploadsTotal:     uploadsTotal,
		documentsInState: documentsInState,
		batchDuration:    batchDuration,
	}
}

func (m *SyncMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *SyncMetrics) RecordEvent(service, eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsTotal.WithLabelValues(service, eventType).Inc()
}

func (m *SyncMetrics) RecordFrameDropped() {
	m.framesDropped.Inc()
}

func (m *SyncMetrics) RecordReconnect() {
	m.reconnectsTotal.Inc()
}

func (m *SyncMetrics) RecordUpload(service string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.uploadsTotal.WithLabelValues(service, status).Inc()
}

func (m *SyncMetrics) SetDocumentsInState(service, state string, count int) {
	m.documentsInState.WithLabelValues(service, state).Set(float64(count))
}

func (m *SyncMetrics) ObserveBatch(duration time.Duration) {
	if duration < 0 {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
}
