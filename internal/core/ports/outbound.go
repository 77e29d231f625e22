package ports

import (
	"context"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

// RecordsBackend is the part of the records API the Deep Search controller calls.
type RecordsBackend interface {
	SearchPatient(ctx context.Context, term string) (*domain.SearchResult, error)
	DeepQuery(ctx context.Context, req domain.DeepQueryRequest) (*domain.DeepQueryAnswer, error)
	AnalyzeDocument(ctx context.Context, req domain.DocumentAnalysisRequest) (*domain.DocumentAnalysis, error)
}

// RecordsDirectory covers the records API endpoints used outside the conversation.
type RecordsDirectory interface {
	Login(ctx context.Context, username, password string) (*domain.User, error)
	ListPatients(ctx context.Context) ([]domain.PatientSummary, error)
	PatientAnalytics(ctx context.Context, patientID string) (*domain.PatientAnalytics, error)
	DepartmentRecords(ctx context.Context, department string) (*domain.DepartmentRecords, error)
	InitData(ctx context.Context) (string, error)
}

// SpeechInput captures one spoken utterance and returns its transcript.
type SpeechInput interface {
	Available() bool
	Listen(ctx context.Context) (string, error)
}

// SpeechOutput reads text aloud; it returns when playback ends or ctx is cancelled.
type SpeechOutput interface {
	Available() bool
	Speak(ctx context.Context, text string) error
}

// PreferenceStore persists operator preferences between runs.
type PreferenceStore interface {
	Load() (domain.Preferences, error)
	Save(prefs domain.Preferences) error
}

// AuditSink receives one event per backend operation.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

// AuditStore persists audit events consumed from the bus.
type AuditStore interface {
	Insert(ctx context.Context, event domain.AuditEvent) error
}

// AuditSubscriber delivers audit events published by conversations.
type AuditSubscriber interface {
	SubscribeAuditEvents(ctx context.Context, handler func(context.Context, domain.AuditEvent) error) error
}

// DeepSearchObserver receives controller measurements.
type DeepSearchObserver interface {
	ObserveBackendCall(operation domain.AuditOperation, outcome domain.AuditOutcome, duration time.Duration)
	RecordStageTransition(from, to domain.ConversationStage)
	RecordRejection(reason string)
}

// AuditPersistObserver measures the worker side of the audit trail.
type AuditPersistObserver interface {
	StartEvent()
	FinishEvent(event domain.AuditEvent, duration time.Duration, err error)
	ObserveDeliveryLag(operation domain.AuditOperation, lag time.Duration)
}
