package domain

import "time"

type MessageKind string

const (
	MessageUser       MessageKind = "user"
	MessageAssistant  MessageKind = "assistant"
	MessageEvidence   MessageKind = "evidence"
	MessageFileUpload MessageKind = "file_upload"
	MessageAnalysis   MessageKind = "analysis"
)

// Message is one transcript entry. Kind decides which of the payload fields are set:
// Text for user, assistant and analysis; Evidence for evidence; Filename for
// file_upload; Suggestions for analysis.
type Message struct {
	ID          string           `json:"id"`
	Kind        MessageKind      `json:"kind"`
	Text        string           `json:"text,omitempty"`
	Evidence    []EvidenceRecord `json:"evidence,omitempty"`
	Filename    string           `json:"filename,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient toast. It never enters the message history.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}
