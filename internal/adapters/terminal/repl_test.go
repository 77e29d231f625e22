package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/usecase"
)

type backendFake struct{}

func (backendFake) SearchPatient(_ context.Context, term string) (*domain.SearchResult, error) {
	if !strings.EqualFold(term, "P1001") {
		return nil, domain.ErrPatientNotFound
	}
	return &domain.SearchResult{Profile: &domain.PatientProfile{PatientID: "P1001", Name: "Tara Smith"}}, nil
}

func (backendFake) DeepQuery(_ context.Context, req domain.DeepQueryRequest) (*domain.DeepQueryAnswer, error) {
	records := make([]domain.EvidenceRecord, 0, 8)
	for i := 0; i < 8; i++ {
		records = append(records, domain.EvidenceRecord{
			Kind:       domain.RecordTreatment,
			Department: domain.DepartmentTreatment,
			Title:      fmt.Sprintf("Session %d", i+1),
			Medicines:  []string{"Ibuprofen"},
		})
	}
	return &domain.DeepQueryAnswer{PatientID: req.PatientID, Answer: "Eight sessions found.", Evidence: records}, nil
}

func (backendFake) AnalyzeDocument(context.Context, domain.DocumentAnalysisRequest) (*domain.DocumentAnalysis, error) {
	return &domain.DocumentAnalysis{Analysis: "Normal.", Suggestions: []string{"Repeat in 6 months"}}, nil
}

type loaderFake struct {
	mimeType string
}

func (l loaderFake) Load(path, _ string) (domain.UploadedFile, error) {
	return domain.UploadedFile{
		Filename: path,
		MimeType: l.mimeType,
		Size:     128,
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("x")), nil },
	}, nil
}

func runScript(t *testing.T, script string, opts Options) string {
	t.Helper()
	conv := usecase.NewDeepSearch(backendFake{}, usecase.DeepSearchOptions{Session: domain.Session{ID: "cli"}})
	var out bytes.Buffer
	if err := New(conv, strings.NewReader(script), &out, opts).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String()
}

func TestREPLLocksPatientAndRendersEvidence(t *testing.T) {
	out := runScript(t, "P1001\n/confirm\nfetch treatment history\n/quit\n", Options{EvidenceLimit: 6})

	for _, want := range []string{
		"Deep Search: Hi Doctor",
		"Please verify the patient details below",
		"Patient locked: Tara Smith (P1001)",
		"P1001> ",
		"Deep Search: Eight sessions found.",
		"[Treatment] N/A  Treatment: Session 1",
		"Medicines: Ibuprofen",
		"... 2 more record(s) not shown",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Session 7") {
		t.Fatalf("records past the limit must stay hidden:\n%s", out)
	}
}

func TestREPLFileRejectionShowsNoticeOnly(t *testing.T) {
	out := runScript(t, "/file notes.txt\n/quit\n", Options{Loader: loaderFake{mimeType: "text/plain"}})
	if !strings.Contains(out, "[error] Unsupported file type") {
		t.Fatalf("expected rejection notice:\n%s", out)
	}
	if strings.Contains(out, "! ") {
		t.Fatalf("rejection must not be printed as an error:\n%s", out)
	}
}

func TestREPLAnalyzeAndExport(t *testing.T) {
	var exported domain.ConversationSnapshot
	opts := Options{
		Loader: loaderFake{mimeType: "application/pdf"},
		Export: func(path string, snapshot domain.ConversationSnapshot) (int, error) {
			exported = snapshot
			return 8, nil
		},
	}
	out := runScript(t, "P1001\n/file ecg.pdf\n/analyze\n/confirm\nfetch treatment history\n/export out.xlsx\n/quit\n", opts)

	for _, want := range []string{"Uploaded ecg.pdf", "Analysis: Normal.", "  - Repeat in 6 months", "Exported 8 evidence record(s) to out.xlsx"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if exported.SelectedPatient == nil || exported.SelectedPatient.PatientID != "P1001" {
		t.Fatalf("unexpected exported snapshot: %+v", exported.SelectedPatient)
	}
}

func TestREPLCommandsAndReset(t *testing.T) {
	out := runScript(t, "/bogus\n/send\n/voice maybe\n/mic\nP1001\n/reset\n/quit\n", Options{})

	if !strings.Contains(out, "! unknown command /bogus") {
		t.Fatalf("expected unknown command error:\n%s", out)
	}
	if !strings.Contains(out, "Nothing dictated yet.") || !strings.Contains(out, "! usage: /voice on|off") {
		t.Fatalf("expected usage hints:\n%s", out)
	}
	if !strings.Contains(out, "[error] ") {
		t.Fatalf("expected the microphone notice:\n%s", out)
	}
	if strings.Count(out, "Deep Search: Hi Doctor") != 2 {
		t.Fatalf("expected the greeting again after /reset:\n%s", out)
	}
}
