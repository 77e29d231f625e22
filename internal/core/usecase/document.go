package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/validation"
)

var (
	errNoPendingFile = errors.New("no document selected")
	errNoPatient     = errors.New("no patient selected")
)

// SelectFile validates a document locally and makes it the pending upload, replacing
// any earlier selection. Rejected files leave the pending upload unchanged.
func (d *DeepSearch) SelectFile(file domain.UploadedFile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return domain.ErrConversationClosed
	}

	file.MimeType = validation.NormalizeMIME(file.MimeType)
	if err := validation.CheckUpload(file.MimeType, file.Size); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedFileType):
			d.noticeLocked(domain.NoticeError, noticeUnsupportedType)
			d.observer.RecordRejection("unsupported_file_type")
		case errors.Is(err, domain.ErrFileTooLarge):
			d.noticeLocked(domain.NoticeError, noticeFileTooLarge)
			d.observer.RecordRejection("file_too_large")
		}
		return err
	}

	d.pending = &file
	d.noticeLocked(domain.NoticeInfo, noticeFileReady(file))
	return nil
}

func (d *DeepSearch) RemoveFile() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	d.pending = nil
	return true
}

// AnalyzeFile sends the pending document with the selected patient to the backend.
// Backend failures become assistant messages and keep the file for a retry.
func (d *DeepSearch) AnalyzeFile(ctx context.Context, question string) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return domain.ErrConversationClosed
	}
	if d.analyzing {
		d.mu.Unlock()
		return domain.ErrBusy
	}
	if d.pending == nil {
		d.noticeLocked(domain.NoticeWarn, noticeSelectFileFirst)
		d.mu.Unlock()
		return domain.WrapError(domain.ErrInvalidInput, "analyze file", errNoPendingFile)
	}
	if !d.stage.HasPatient() || d.patient == nil {
		d.noticeLocked(domain.NoticeWarn, noticeNeedPatient)
		d.mu.Unlock()
		return domain.WrapError(domain.ErrInvalidInput, "analyze file", errNoPatient)
	}

	question = strings.TrimSpace(question)
	if question == "" {
		question = defaultAnalysisQuestion
	}
	file := d.pending
	patientID := d.patient.PatientID
	gen := d.generation
	d.analyzing = true
	d.appendLocked(domain.Message{Kind: domain.MessageFileUpload, Filename: file.Filename})
	d.mu.Unlock()

	defer d.finishAnalyzing(gen)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := d.now()
	result, err := d.backend.AnalyzeDocument(callCtx, domain.DocumentAnalysisRequest{
		File:      *file,
		PatientID: patientID,
		Question:  question,
	})
	elapsed := d.now().Sub(started)

	outcome, detail := domain.AuditSuccess, ""
	if err != nil {
		outcome, detail = domain.AuditError, errorDetail(err, d.timeout)
	}
	d.recordOperation(ctx, domain.AuditDocumentAnalysis, outcome, patientID, file.Filename, detail, elapsed)

	d.mu.Lock()
	if !d.currentLocked(gen) {
		d.mu.Unlock()
		d.logger.Debug("deepsearch_stale_result_dropped", "operation", domain.AuditDocumentAnalysis)
		return nil
	}
	d.analyzing = false

	var spoken string
	switch {
	case err != nil:
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyAnalysisFailed(detail)})
	case result == nil || strings.TrimSpace(result.Analysis) == "":
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyNoAnalysisText})
		d.clearPendingLocked(file)
	default:
		spoken = strings.TrimSpace(result.Analysis)
		d.appendLocked(domain.Message{
			Kind:        domain.MessageAnalysis,
			Text:        spoken,
			Suggestions: append([]string(nil), result.Suggestions...),
		})
		d.clearPendingLocked(file)
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("deepsearch_document_analysis_failed", "filename", file.Filename, "error", err)
	}
	d.speak(spoken)
	return nil
}

// clearPendingLocked drops the analyzed file unless a newer one was selected meanwhile.
func (d *DeepSearch) clearPendingLocked(analyzed *domain.UploadedFile) {
	if d.pending == analyzed {
		d.pending = nil
	}
}

func (d *DeepSearch) finishAnalyzing(gen uint64) {
	d.mu.Lock()
	if d.generation == gen {
		d.analyzing = false
	}
	d.mu.Unlock()
}
