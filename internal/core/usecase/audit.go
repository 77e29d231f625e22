package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

const auditInsertTimeout = 10 * time.Second

// AuditPersister stores audit events delivered by the bus.
type AuditPersister struct {
	store    ports.AuditStore
	observer ports.AuditPersistObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuditPersister(store ports.AuditStore, observer ports.AuditPersistObserver, logger *slog.Logger) *AuditPersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditPersister{
		store:    store,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle inserts one event. Redelivered events are ignored by the store.
func (p *AuditPersister) Handle(ctx context.Context, event domain.AuditEvent) error {
	started := p.now()
	if p.observer != nil {
		p.observer.StartEvent()
		if !event.OccurredAt.IsZero() {
			p.observer.ObserveDeliveryLag(event.Operation, started.Sub(event.OccurredAt))
		}
	}

	insertCtx, cancel := context.WithTimeout(ctx, auditInsertTimeout)
	defer cancel()
	err := p.store.Insert(insertCtx, event)

	if p.observer != nil {
		p.observer.FinishEvent(event, p.now().Sub(started), err)
	}
	if err != nil {
		p.logger.Error("audit_persist_failed", "event_id", event.ID, "operation", event.Operation, "error", err)
		return err
	}
	p.logger.Debug("audit_persisted", "event_id", event.ID, "operation", event.Operation, "outcome", event.Outcome)
	return nil
}
