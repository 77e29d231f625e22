package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

func newAuditRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewAuditRepository(db), mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(auditSchemaLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS deepsearch_audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertWritesOneRowPerEvent(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	occurred := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO deepsearch_audit_events").
		WithArgs("evt-1", "s-1", "doctor", "deep_query", "P1001", "blood reports", "success", "", 12.5, occurred).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), domain.AuditEvent{
		ID:         "evt-1",
		SessionID:  "s-1",
		Username:   "doctor",
		Operation:  domain.AuditDeepQuery,
		PatientID:  "P1001",
		Term:       "blood reports",
		Outcome:    domain.AuditSuccess,
		DurationMS: 12.5,
		OccurredAt: occurred,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertRejectsEventWithoutID(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	err := repo.Insert(context.Background(), domain.AuditEvent{SessionID: "s-1"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertWrapsDriverError(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO deepsearch_audit_events").
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), domain.AuditEvent{ID: "evt-2", OccurredAt: time.Now()})
	if err == nil {
		t.Fatalf("expected error")
	}
}
