package domain

import (
	"io"
	"time"
)

// MaxUploadBytes is the largest document accepted for analysis (inclusive).
const MaxUploadBytes int64 = 10 << 20

// UploadedFile is a document selected for analysis but not yet analyzed.
type UploadedFile struct {
	Filename string
	MimeType string
	Size     int64
	// Pages is set for PDFs when the loader could read the page tree.
	Pages int
	Open  func() (io.ReadCloser, error)
}

// UploadInfo is the serializable view of a pending UploadedFile.
type UploadInfo struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages,omitempty"`
}

func (f UploadedFile) Info() UploadInfo {
	return UploadInfo{Filename: f.Filename, MimeType: f.MimeType, Size: f.Size, Pages: f.Pages}
}

type DocumentAnalysisRequest struct {
	File      UploadedFile
	PatientID string
	Question  string
}

type DocumentAnalysis struct {
	Analysis    string   `json:"analysis"`
	FileType    string   `json:"file_type,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type AuditOperation string

const (
	AuditPatientLookup    AuditOperation = "patient_lookup"
	AuditDeepQuery        AuditOperation = "deep_query"
	AuditDocumentAnalysis AuditOperation = "document_analysis"
)

type AuditOutcome string

const (
	AuditSuccess  AuditOutcome = "success"
	AuditNotFound AuditOutcome = "not_found"
	AuditError    AuditOutcome = "error"
)

// AuditEvent records one backend operation issued on behalf of an operator.
type AuditEvent struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Username   string         `json:"username"`
	Operation  AuditOperation `json:"operation"`
	PatientID  string         `json:"patient_id,omitempty"`
	Term       string         `json:"term,omitempty"`
	Outcome    AuditOutcome   `json:"outcome"`
	Detail     string         `json:"detail,omitempty"`
	DurationMS float64        `json:"duration_ms"`
	OccurredAt time.Time      `json:"occurred_at"`
}
