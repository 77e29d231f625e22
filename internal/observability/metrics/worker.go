package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

var _ ports.AuditPersistObserver = (*WorkerMetrics)(nil)

// WorkerMetrics covers the audit worker. Besides persistence health it re-exposes what
// the events themselves report, so one scrape shows backend outcomes across every API
// and CLI instance that published to the bus.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	persisted       *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	deliveryLag     *prometheus.HistogramVec
	auditedDuration *prometheus.HistogramVec
	lastPersisted   prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	persisted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pds",
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Audit events handled by the worker, by audited operation and outcome and by insert status.",
		},
		[]string{"service", "operation", "outcome", "status"},
	)
	persistDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pds",
			Subsystem: "audit",
			Name:      "insert_duration_seconds",
			Help:      "Audit row insert duration in seconds by status.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 10},
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "pds",
			Subsystem:   "audit",
			Name:        "inserts_in_flight",
			Help:        "Audit events being written.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	deliveryLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pds",
			Subsystem: "audit",
			Name:      "delivery_lag_seconds",
			Help:      "Delay between the audited operation and its persistence.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "operation"},
	)
	auditedDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pds",
			Subsystem: "audit",
			Name:      "backend_duration_seconds",
			Help:      "Records backend call duration as reported by audit events.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"service", "operation", "outcome"},
	)
	lastPersisted := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "pds",
			Subsystem:   "audit",
			Name:        "last_persisted_timestamp_seconds",
			Help:        "Unix time of the most recently stored audit event.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)

	registry.MustRegister(persisted, persistDuration, inFlight, deliveryLag, auditedDuration, lastPersisted)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		persisted:       persisted,
		persistDuration: persistDuration,
		inFlight:        inFlight,
		deliveryLag:     deliveryLag,
		auditedDuration: auditedDuration,
		lastPersisted:   lastPersisted,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(event domain.AuditEvent, duration time.Duration, err error) {
	m.inFlight.Dec()

	status := "stored"
	if err != nil {
		status = "failed"
	}
	operation, outcome := auditLabel(string(event.Operation)), auditLabel(string(event.Outcome))

	m.persisted.WithLabelValues(m.service, operation, outcome, status).Inc()
	m.persistDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if err != nil {
		return
	}
	m.lastPersisted.SetToCurrentTime()
	if event.DurationMS >= 0 {
		m.auditedDuration.WithLabelValues(m.service, operation, outcome).Observe(event.DurationMS / 1000)
	}
}

func (m *WorkerMetrics) ObserveDeliveryLag(operation domain.AuditOperation, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.deliveryLag.WithLabelValues(m.service, auditLabel(string(operation))).Observe(lag.Seconds())
}

// auditLabel keeps malformed events from creating empty label values.
func auditLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
