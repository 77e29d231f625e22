package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/validation"
)

const (
	replyGreeting         = "Hi Doctor 👋 I’m Deep Search. First, please enter the Patient ID (e.g., P1001) or Patient Name (min 3 letters)."
	replyInvalidLookup    = "Please enter a valid Patient ID like P1001 or a Patient Name (minimum 3 letters). Example: Tara Smith."
	replyPatientNotFound  = "I couldn't find a patient with that ID/Name. Please try again (example: P1001)."
	replyConfirmPrompt    = "Is this the correct patient? Use Confirm or Change Patient."
	replyUseButtons       = "Please use the buttons below: Confirm or Change Patient."
	replyChangePatient    = "Okay ✅ Please enter the Patient ID (P1001) or Patient Name (min 3 letters)."
	replyTrivialQuestion  = "Please type a clearer question (minimum 3 letters). Example: “fetch blood reports”."
	replyMissingPatientID = "Patient is not locked correctly (missing patient_id). Please Change Patient and select again."
	replyEmptyResponse    = "Backend returned empty response. Check backend logs."
	replyNoAnswerField    = "Backend responded, but no 'answer' field found."
	replyNoAnalysisText   = "The document was processed, but no analysis text was returned."

	noticeSelectFileFirst  = "Select a document before running analysis."
	noticeNeedPatient      = "Identify the patient before analyzing a document."
	noticeWaitForRequest   = "Please wait for the current request to finish."
	noticeUnsupportedType  = "Unsupported file type. Please upload a PNG, JPEG, WebP or PDF document."
	noticeFileTooLarge     = "File is too large. The maximum size is 10 MB."
	noticeVoiceUnsupported = "Voice input is not supported on this device."
	noticeVoiceOutput      = "Voice output is not supported on this device."

	defaultAnalysisQuestion = "Summarize the key clinical findings in this document."
)

func replyPatientSummary(p domain.PatientProfile) string {
	age := "N/A"
	if p.Age != nil {
		age = strconv.Itoa(*p.Age)
	}
	return strings.Join([]string{
		"Please verify the patient details below:",
		"• Name: " + orNA(p.Name),
		"• ID: " + orNA(p.PatientID),
		"• Age: " + age,
		"• Gender: " + orNA(p.Gender),
		"• Blood Group: " + orNA(p.BloodGroup),
	}, "\n")
}

func replyPatientLocked(p domain.PatientProfile) string {
	name := p.Name
	if strings.TrimSpace(name) == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("Great ✅ Patient locked: %s (%s). Now ask your question.", name, orNA(p.PatientID))
}

func replyLookupFailed(detail string) string {
	return "Error fetching patient details. Details: " + detail
}

func replyDeepQueryFailed(detail string) string {
	return "Backend deep-query failed. Details: " + detail
}

func replyAnalysisFailed(detail string) string {
	return "Document analysis failed. Details: " + detail
}

func noticeFileReady(file domain.UploadedFile) string {
	parts := []string{validation.UploadTypeLabel(file.MimeType), formatSize(file.Size)}
	if file.Pages > 0 {
		parts = append(parts, fmt.Sprintf("%d pages", file.Pages))
	}
	return fmt.Sprintf("%s (%s) is ready. Run Analyze to send it for document analysis.", file.Filename, strings.Join(parts, ", "))
}

func noticeVoiceFailed(err error) string {
	return "Voice input failed: " + err.Error()
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/float64(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func orNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return "N/A"
	}
	return value
}
