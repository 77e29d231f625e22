package domain

import "strings"

type Department string

const (
	DepartmentUnknown   Department = ""
	DepartmentMRI       Department = "mri"
	DepartmentXRay      Department = "xray"
	DepartmentECG       Department = "ecg"
	DepartmentBlood     Department = "blood"
	DepartmentCT        Department = "ct"
	DepartmentTreatment Department = "treatment"
)

// ParseDepartment accepts the collection names, route names and display labels the
// records backend uses for the same department.
func ParseDepartment(raw string) Department {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimSuffix(key, "_records")
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)

	switch key {
	case "mri":
		return DepartmentMRI
	case "xray":
		return DepartmentXRay
	case "ecg", "ekg":
		return DepartmentECG
	case "blood", "bloodprofile", "bloodtest":
		return DepartmentBlood
	case "ct", "ctscan":
		return DepartmentCT
	case "treatment", "treatments":
		return DepartmentTreatment
	default:
		return DepartmentUnknown
	}
}

func (d Department) Label() string {
	switch d {
	case DepartmentMRI:
		return "MRI"
	case DepartmentXRay:
		return "X-Ray"
	case DepartmentECG:
		return "ECG"
	case DepartmentBlood:
		return "Blood Profile"
	case DepartmentCT:
		return "CT Scan"
	case DepartmentTreatment:
		return "Treatment"
	default:
		return ""
	}
}

// RecordKind discriminates EvidenceRecord.
type RecordKind string

const (
	RecordTest      RecordKind = "test"
	RecordTreatment RecordKind = "treatment"
)

// EvidenceRecord is a read-only projection of one clinical record. Tests may carry
// ReportImage, treatments may carry Medicines; the other kind leaves them empty.
type EvidenceRecord struct {
	Kind          RecordKind `json:"kind"`
	Department    Department `json:"department"`
	DepartmentRaw string     `json:"department_raw,omitempty"`
	Date          string     `json:"date"`
	Title         string     `json:"title"`
	Result        string     `json:"result"`
	Doctor        string     `json:"doctor"`
	Medicines     []string   `json:"medicines,omitempty"`
	ReportImage   string     `json:"report_image,omitempty"`
}

type DeepQueryRequest struct {
	PatientID string
	Query     string
}

type DeepQueryAnswer struct {
	PatientID          string           `json:"patient_id"`
	Answer             string           `json:"answer"`
	Evidence           []EvidenceRecord `json:"evidence"`
	MatchedDepartments []string         `json:"matched_departments"`
}
