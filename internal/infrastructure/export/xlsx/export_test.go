package xlsx

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

func exportSnapshot() domain.ConversationSnapshot {
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	records := make([]domain.EvidenceRecord, 0, 8)
	for i := 0; i < 7; i++ {
		records = append(records, domain.EvidenceRecord{
			Kind:       domain.RecordTest,
			Department: domain.DepartmentBlood,
			Date:       "2026-01-0" + string(rune('1'+i)),
			Title:      "CBC",
			Result:     "Normal",
		})
	}
	records = append(records, domain.EvidenceRecord{
		Kind:       domain.RecordTreatment,
		Department: domain.DepartmentTreatment,
		Title:      "Physiotherapy",
		Medicines:  []string{"Ibuprofen", " "},
	})
	return domain.ConversationSnapshot{
		SelectedPatient: &domain.PatientProfile{PatientID: "P1001", Name: "Tara Smith"},
		Messages: []domain.Message{
			{Kind: domain.MessageUser, Text: "fetch blood reports", CreatedAt: at},
			{Kind: domain.MessageAssistant, Text: "Found 8 records.", CreatedAt: at},
			{Kind: domain.MessageEvidence, Evidence: records, CreatedAt: at},
			{Kind: domain.MessageFileUpload, Filename: "ecg.pdf", CreatedAt: at},
		},
	}
}

func TestWriteExportsAllEvidenceAndTranscript(t *testing.T) {
	var buf bytes.Buffer
	rows, err := Write(&buf, exportSnapshot())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rows != 8 {
		t.Fatalf("expected 8 evidence rows, got %d", rows)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	evidenceRows, err := f.GetRows(evidenceSheet)
	if err != nil {
		t.Fatalf("GetRows(evidence) error = %v", err)
	}
	if len(evidenceRows) != 9 {
		t.Fatalf("expected header plus 8 rows, got %d", len(evidenceRows))
	}
	if evidenceRows[0][1] != "Department" || evidenceRows[1][0] != "P1001" || evidenceRows[1][1] != "Blood Profile" {
		t.Fatalf("unexpected first rows: %v", evidenceRows[:2])
	}
	last := evidenceRows[8]
	if last[3] != "Treatment" || last[2] != "N/A" || last[7] != "Ibuprofen" {
		t.Fatalf("unexpected treatment row: %v", last)
	}

	transcript, err := f.GetRows(transcriptSheet)
	if err != nil {
		t.Fatalf("GetRows(transcript) error = %v", err)
	}
	if len(transcript) != 5 || transcript[3][2] != "8 evidence record(s)" || transcript[4][3] != "ecg.pdf" {
		t.Fatalf("unexpected transcript: %v", transcript)
	}
	if transcript[1][0] != "2026-10-19 09:30:00" {
		t.Fatalf("unexpected timestamp %q", transcript[1][0])
	}
}

func TestSaveWritesFileWithoutEvidence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	rows, err := Save(path, domain.ConversationSnapshot{})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected no rows, got %d", rows)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); len(got) != 2 || got[0] != evidenceSheet {
		t.Fatalf("unexpected sheets: %v", got)
	}
}
