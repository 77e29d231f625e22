package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

var _ ports.DeepSearchObserver = (*DeepSearchMetrics)(nil)

// DeepSearchMetrics observes conversations. It registers into the host's registry so
// the API serves it next to the HTTP metrics.
type DeepSearchMetrics struct {
	service string

	backendCalls     *prometheus.CounterVec
	backendDuration  *prometheus.HistogramVec
	stageTransitions *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	breakerOpen      *prometheus.GaugeVec
}

func NewDeepSearchMetrics(service string, registerer prometheus.Registerer) *DeepSearchMetrics {
	backendCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pds",
			Subsystem: "deepsearch",
			Name:      "backend_calls_total",
			Help:      "Records backend operations by outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)
	backendDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pds",
			Subsystem: "deepsearch",
			Name:      "backend_call_duration_seconds",
			Help:      "Records backend operation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"service", "operation"},
	)
	stageTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pds",
			Subsystem: "deepsearch",
			Name:      "stage_transitions_total",
			Help:      "Conversation stage transitions.",
		},
		[]string{"service", "from", "to"},
	)
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pds",
			Subsystem: "deepsearch",
			Name:      "validation_rejections_total",
			Help:      "Inputs rejected locally before reaching the backend.",
		},
		[]string{"service", "reason"},
	)

	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pds",
			Subsystem: "deepsearch",
			Name:      "circuit_open",
			Help:      "1 while the circuit breaker of a backend operation is open, 0.5 while half-open.",
		},
		[]string{"service", "operation"},
	)

	if registerer != nil {
		registerer.MustRegister(backendCalls, backendDuration, stageTransitions, rejections, breakerOpen)
	}

	return &DeepSearchMetrics{
		service:          service,
		backendCalls:     backendCalls,
		backendDuration:  backendDuration,
		stageTransitions: stageTransitions,
		rejections:       rejections,
		breakerOpen:      breakerOpen,
	}
}

func (m *DeepSearchMetrics) ObserveBackendCall(operation domain.AuditOperation, outcome domain.AuditOutcome, duration time.Duration) {
	m.backendCalls.WithLabelValues(m.service, string(operation), string(outcome)).Inc()
	m.backendDuration.WithLabelValues(m.service, string(operation)).Observe(duration.Seconds())
}

func (m *DeepSearchMetrics) RecordStageTransition(from, to domain.ConversationStage) {
	m.stageTransitions.WithLabelValues(m.service, string(from), string(to)).Inc()
}

func (m *DeepSearchMetrics) RecordRejection(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(m.service, reason).Inc()
}

// ObserveBreakerChange has the shape of resilience.Config.OnBreakerChange.
func (m *DeepSearchMetrics) ObserveBreakerChange(operation string, _, to resilience.BreakerState) {
	value := 0.0
	switch to {
	case resilience.BreakerOpen:
		value = 1
	case resilience.BreakerHalfOpen:
		value = 0.5
	}
	m.breakerOpen.WithLabelValues(m.service, operation).Set(value)
}
