package recordsapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

type profileWire struct {
	PatientID        string          `json:"patient_id"`
	Name             string          `json:"name"`
	Age              json.RawMessage `json:"age"`
	Gender           string          `json:"gender"`
	BloodGroup       string          `json:"blood_group"`
	Address          string          `json:"address"`
	Phone            string          `json:"phone"`
	RegistrationDate string          `json:"registration_date"`
}

func (p profileWire) toDomain() domain.PatientProfile {
	return domain.PatientProfile{
		PatientID:        strings.TrimSpace(p.PatientID),
		Name:             strings.TrimSpace(p.Name),
		Age:              parseAge(p.Age),
		Gender:           p.Gender,
		BloodGroup:       p.BloodGroup,
		Address:          p.Address,
		Phone:            p.Phone,
		RegistrationDate: p.RegistrationDate,
	}
}

// parseAge accepts a JSON number or a numeric string.
func parseAge(raw json.RawMessage) *int {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return nil
	}
	if age, err := strconv.Atoi(text); err == nil {
		return &age
	}
	if age, err := strconv.ParseFloat(text, 64); err == nil {
		v := int(age)
		return &v
	}
	return nil
}

type evidenceWire struct {
	Department string         `json:"department"`
	Date       string         `json:"date"`
	Title      string         `json:"title"`
	Result     string         `json:"result"`
	Doctor     *string        `json:"doctor"`
	Extra      map[string]any `json:"extra"`
	Record     map[string]any `json:"record"`
}

type deepQueryWire struct {
	PatientID          string         `json:"patient_id"`
	Answer             string         `json:"answer"`
	Evidence           []evidenceWire `json:"evidence"`
	MatchedDepartments []string       `json:"matched_departments"`
	DetectedDepartment []string       `json:"detected_departments"`
}

func (w deepQueryWire) toDomain() *domain.DeepQueryAnswer {
	matched := w.MatchedDepartments
	if len(matched) == 0 {
		matched = w.DetectedDepartment
	}
	evidence := make([]domain.EvidenceRecord, 0, len(w.Evidence))
	for _, item := range w.Evidence {
		evidence = append(evidence, item.toDomain())
	}
	return &domain.DeepQueryAnswer{
		PatientID:          w.PatientID,
		Answer:             strings.TrimSpace(w.Answer),
		Evidence:           evidence,
		MatchedDepartments: matched,
	}
}

// toDomain merges the summary fields with whatever the backend attached under extra
// or record. Summary fields win when both are present.
func (w evidenceWire) toDomain() domain.EvidenceRecord {
	details := map[string]any{}
	for k, v := range w.Record {
		details[k] = v
	}
	for k, v := range w.Extra {
		details[k] = v
	}

	record := recordFromMap(w.Department, details)
	if w.Date != "" {
		record.Date = w.Date
	}
	if w.Title != "" {
		record.Title = w.Title
	}
	if w.Result != "" {
		record.Result = w.Result
	}
	if w.Doctor != nil && strings.TrimSpace(*w.Doctor) != "" {
		record.Doctor = *w.Doctor
	}
	return record
}

// recordFromMap converts one raw department record, as listed under *_records or
// attached to evidence, into an EvidenceRecord.
func recordFromMap(departmentRaw string, raw map[string]any) domain.EvidenceRecord {
	dept := domain.ParseDepartment(departmentRaw)
	kind := domain.RecordTest
	if dept == domain.DepartmentTreatment || stringField(raw, "treatment_name") != "" {
		kind = domain.RecordTreatment
	}

	record := domain.EvidenceRecord{
		Kind:       kind,
		Department: dept,
		Result:     stringField(raw, "result"),
		Doctor:     stringField(raw, "doctor"),
	}
	if dept == domain.DepartmentUnknown {
		record.DepartmentRaw = strings.TrimSpace(departmentRaw)
	}
	if kind == domain.RecordTreatment {
		record.Date = firstNonEmpty(stringField(raw, "treatment_date"), stringField(raw, "date"))
		record.Title = firstNonEmpty(stringField(raw, "treatment_name"), stringField(raw, "title"))
		record.Medicines = parseMedicines(raw["medicines"])
	} else {
		record.Date = firstNonEmpty(stringField(raw, "test_date"), stringField(raw, "date"))
		record.Title = firstNonEmpty(stringField(raw, "test_name"), stringField(raw, "title"))
		record.ReportImage = stringField(raw, "report_image")
	}
	return record
}

// parseMedicines accepts a comma separated string or a JSON array.
func parseMedicines(value any) []string {
	var items []string
	switch v := value.(type) {
	case string:
		items = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// decodeSearch reads /search. Every key ending in _records is a department list, so
// departments the client does not know yet still reach the evidence list.
func decodeSearch(body map[string]json.RawMessage) (*domain.SearchResult, error) {
	result := &domain.SearchResult{}

	if raw, ok := body["profile"]; ok && strings.TrimSpace(string(raw)) != "null" {
		var profile profileWire
		if err := json.Unmarshal(raw, &profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		p := profile.toDomain()
		result.Profile = &p
	}

	keys := make([]string, 0, len(body))
	for key := range body {
		if strings.HasSuffix(key, "_records") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		var rows []map[string]any
		if err := json.Unmarshal(body[key], &rows); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		dept := domain.ParseDepartment(key)
		for _, row := range rows {
			result.Records = append(result.Records, recordFromMap(key, row))
		}
		if result.Profile != nil {
			result.Profile.RecordCounts.Add(dept, len(rows))
		}
	}
	return result, nil
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
