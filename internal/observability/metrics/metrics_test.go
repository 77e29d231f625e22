package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

func TestNormalizePathHidesSessionIDs(t *testing.T) {
	cases := map[string]string{
		"/v1/sessions":              "/v1/sessions",
		"/v1/sessions/":             "/v1/sessions/",
		"/v1/sessions/abc":          "/v1/sessions/{session_id}",
		"/v1/sessions/abc/messages": "/v1/sessions/{session_id}/messages",
		"/v1/sessions/abc/files":    "/v1/sessions/{session_id}/files",
		"/healthz":                  "/healthz",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestHTTPMiddlewareCountsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/messages", nil))

	body := scrape(t, m.Handler())
	want := `pds_http_requests_total{method="POST",path="/v1/sessions/{session_id}/messages",service="api",status="409"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in:\n%s", want, body)
	}
}

func TestDeepSearchMetricsShareRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	ds := NewDeepSearchMetrics("api", httpMetrics.Registerer())

	ds.ObserveBackendCall(domain.AuditDeepQuery, domain.AuditError, 1500*time.Millisecond)
	ds.RecordStageTransition(domain.StageAwaitingPatient, domain.StageVerifyingPatient)
	ds.RecordRejection("")

	body := scrape(t, httpMetrics.Handler())
	for _, want := range []string{
		`pds_deepsearch_backend_calls_total{operation="deep_query",outcome="error",service="api"} 1`,
		`pds_deepsearch_stage_transitions_total{from="awaiting_patient",service="api",to="verifying_patient"} 1`,
		`pds_deepsearch_validation_rejections_total{reason="unknown",service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q on the shared endpoint:\n%s", want, body)
		}
	}
}

func TestDeepSearchMetricsBreakerGauge(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	ds := NewDeepSearchMetrics("api", httpMetrics.Registerer())

	ds.ObserveBreakerChange("records.deep_query", resilience.BreakerClosed, resilience.BreakerOpen)
	body := scrape(t, httpMetrics.Handler())
	want := `pds_deepsearch_circuit_open{operation="records.deep_query",service="api"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in:\n%s", want, body)
	}

	ds.ObserveBreakerChange("records.deep_query", resilience.BreakerHalfOpen, resilience.BreakerClosed)
	body = scrape(t, httpMetrics.Handler())
	want = `pds_deepsearch_circuit_open{operation="records.deep_query",service="api"} 0`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in:\n%s", want, body)
	}
}

func TestWorkerMetricsLabelsAuditedOperation(t *testing.T) {
	m := NewWorkerMetrics("worker")
	event := domain.AuditEvent{Operation: domain.AuditPatientLookup, Outcome: domain.AuditNotFound, DurationMS: 250}

	m.StartEvent()
	m.FinishEvent(event, 3*time.Millisecond, nil)
	m.StartEvent()
	m.FinishEvent(domain.AuditEvent{}, 10*time.Millisecond, errors.New("insert failed"))
	m.ObserveDeliveryLag(domain.AuditPatientLookup, 2*time.Second)
	m.ObserveDeliveryLag(domain.AuditDeepQuery, -time.Second)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`pds_audit_events_total{operation="patient_lookup",outcome="not_found",service="worker",status="stored"} 1`,
		`pds_audit_events_total{operation="unknown",outcome="unknown",service="worker",status="failed"} 1`,
		`pds_audit_backend_duration_seconds_count{operation="patient_lookup",outcome="not_found",service="worker"} 1`,
		`pds_audit_backend_duration_seconds_sum{operation="patient_lookup",outcome="not_found",service="worker"} 0.25`,
		`pds_audit_delivery_lag_seconds_count{operation="patient_lookup",service="worker"} 1`,
		`pds_audit_inserts_in_flight{service="worker"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, `pds_audit_delivery_lag_seconds_count{operation="deep_query"`) {
		t.Fatalf("negative lag must not be observed")
	}
	if strings.Contains(body, `pds_audit_backend_duration_seconds_count{operation="unknown"`) {
		t.Fatalf("failed inserts must not feed backend durations")
	}
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}
