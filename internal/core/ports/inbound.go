package ports

import (
	"context"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

// Conversation is the inbound contract of one Deep Search dialogue.
type Conversation interface {
	Open()
	Close()
	SubmitUserText(ctx context.Context, text string) error
	ConfirmPatient() bool
	ChangePatient() bool
	SelectFile(file domain.UploadedFile) error
	RemoveFile() bool
	AnalyzeFile(ctx context.Context, question string) error
	StartListening(ctx context.Context) error
	StopListening()
	SetVoiceOutput(enabled bool) error
	StopSpeaking()
	Snapshot() domain.ConversationSnapshot
	DrainNotices() []domain.Notice
}
