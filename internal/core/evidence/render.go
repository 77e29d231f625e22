// Package evidence turns backend evidence records into a display model with stable
// columns.
package evidence

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

const (
	// DefaultLimit is the number of records shown per evidence message.
	DefaultLimit = 6
	Placeholder  = "N/A"
)

type View struct {
	Department  string `json:"department"`
	Date        string `json:"date"`
	TitleLabel  string `json:"title_label"`
	Title       string `json:"title"`
	Result      string `json:"result"`
	Doctor      string `json:"doctor"`
	Medicines   string `json:"medicines,omitempty"`
	ReportImage string `json:"report_image,omitempty"`
}

// Panel is one rendered evidence message. Hidden counts records beyond the limit.
type Panel struct {
	Items  []View `json:"items"`
	Hidden int    `json:"hidden"`
}

// Render normalizes at most limit records; limit <= 0 selects DefaultLimit.
func Render(records []domain.EvidenceRecord, limit int) Panel {
	if limit <= 0 {
		limit = DefaultLimit
	}
	shown := records
	if len(shown) > limit {
		shown = shown[:limit]
	}

	panel := Panel{
		Items:  make([]View, 0, len(shown)),
		Hidden: len(records) - len(shown),
	}
	for _, record := range shown {
		panel.Items = append(panel.Items, RenderRecord(record))
	}
	return panel
}

func RenderRecord(record domain.EvidenceRecord) View {
	view := View{
		Department: departmentLabel(record),
		Date:       orPlaceholder(record.Date),
		Title:      orPlaceholder(record.Title),
		Result:     orPlaceholder(record.Result),
		Doctor:     orPlaceholder(record.Doctor),
	}

	switch record.Kind {
	case domain.RecordTreatment:
		view.TitleLabel = "Treatment"
		view.Medicines = orPlaceholder(strings.Join(nonEmpty(record.Medicines), ", "))
	case domain.RecordTest:
		view.TitleLabel = "Test"
		view.ReportImage = strings.TrimSpace(record.ReportImage)
	default:
		view.TitleLabel = "Record"
	}
	return view
}

func departmentLabel(record domain.EvidenceRecord) string {
	if label := record.Department.Label(); label != "" {
		return label
	}
	raw := strings.TrimSpace(record.DepartmentRaw)
	if raw == "" {
		return Placeholder
	}
	raw = strings.TrimSuffix(raw, "_records")
	words := strings.FieldsFunc(raw, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(first)) + strings.ToLower(word[size:])
	}
	return strings.Join(words, " ")
}

func orPlaceholder(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return Placeholder
	}
	return value
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
