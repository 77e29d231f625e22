package evidence

import (
	"testing"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

func TestRenderCapsItemsAndReportsHidden(t *testing.T) {
	records := make([]domain.EvidenceRecord, 9)
	for i := range records {
		records[i] = domain.EvidenceRecord{Kind: domain.RecordTest, Department: domain.DepartmentBlood, Title: "CBC"}
	}

	panel := Render(records, 0)
	if len(panel.Items) != DefaultLimit {
		t.Fatalf("expected %d items, got %d", DefaultLimit, len(panel.Items))
	}
	if panel.Hidden != 3 {
		t.Fatalf("expected 3 hidden records, got %d", panel.Hidden)
	}
	if len(records) != 9 {
		t.Fatalf("render must not mutate input")
	}
}

func TestRenderFillsMissingFieldsWithPlaceholder(t *testing.T) {
	view := RenderRecord(domain.EvidenceRecord{Kind: domain.RecordTreatment, Department: domain.DepartmentTreatment})

	if view.Department != "Treatment" {
		t.Fatalf("expected Treatment label, got %q", view.Department)
	}
	for name, got := range map[string]string{
		"date":      view.Date,
		"title":     view.Title,
		"result":    view.Result,
		"doctor":    view.Doctor,
		"medicines": view.Medicines,
	} {
		if got != Placeholder {
			t.Fatalf("expected %s placeholder, got %q", name, got)
		}
	}
	if view.ReportImage != "" {
		t.Fatalf("treatments never carry a report image, got %q", view.ReportImage)
	}
}

func TestRenderTestRecordKeepsReportImage(t *testing.T) {
	view := RenderRecord(domain.EvidenceRecord{
		Kind:        domain.RecordTest,
		Department:  domain.DepartmentXRay,
		Date:        "2025-03-02",
		Title:       "Chest X-Ray",
		Result:      "Clear",
		Doctor:      "Dr. Reyes",
		ReportImage: "https://img.example/x.png",
	})

	if view.TitleLabel != "Test" || view.Department != "X-Ray" {
		t.Fatalf("unexpected labels: %+v", view)
	}
	if view.ReportImage != "https://img.example/x.png" {
		t.Fatalf("expected report image, got %q", view.ReportImage)
	}
	if view.Medicines != "" {
		t.Fatalf("tests never list medicines, got %q", view.Medicines)
	}
}

func TestRenderTitleCasesUnknownDepartment(t *testing.T) {
	view := RenderRecord(domain.EvidenceRecord{Kind: domain.RecordTest, DepartmentRaw: "nuclear_medicine_records"})
	if view.Department != "Nuclear Medicine" {
		t.Fatalf("expected title-cased raw label, got %q", view.Department)
	}
}

func TestRenderTitleCasesNonASCIIDepartment(t *testing.T) {
	view := RenderRecord(domain.EvidenceRecord{Kind: domain.RecordTest, DepartmentRaw: "échographie_records"})
	if view.Department != "Échographie" {
		t.Fatalf("expected whole first letter upper-cased, got %q", view.Department)
	}
}

func TestRenderJoinsMedicines(t *testing.T) {
	view := RenderRecord(domain.EvidenceRecord{
		Kind:      domain.RecordTreatment,
		Medicines: []string{"Aspirin 75mg", " ", "Metformin 850mg"},
	})
	if view.Medicines != "Aspirin 75mg, Metformin 850mg" {
		t.Fatalf("unexpected medicines: %q", view.Medicines)
	}
}
