package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

const auditSchemaLockID int64 = 2026101901

type AuditRepository struct {
	db *sql.DB
}

var _ ports.AuditStore = (*AuditRepository)(nil)

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, auditSchemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS deepsearch_audit_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	operation TEXT NOT NULL,
	patient_id TEXT NOT NULL DEFAULT '',
	term TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deepsearch_audit_session ON deepsearch_audit_events(session_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_deepsearch_audit_patient ON deepsearch_audit_events(patient_id, occurred_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Insert stores one event. Redelivered events with a known ID are ignored.
func (r *AuditRepository) Insert(ctx context.Context, event domain.AuditEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "insert audit event", errors.New("event id is required"))
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO deepsearch_audit_events (
	id, session_id, username, operation, patient_id, term, outcome, detail, duration_ms, occurred_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING
`,
		event.ID, event.SessionID, event.Username, string(event.Operation), event.PatientID, event.Term,
		string(event.Outcome), event.Detail, event.DurationMS, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
