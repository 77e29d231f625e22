package domain

// PatientProfile is the identity block returned by the records backend search.
type PatientProfile struct {
	PatientID        string       `json:"patient_id"`
	Name             string       `json:"name"`
	Age              *int         `json:"age,omitempty"`
	Gender           string       `json:"gender"`
	BloodGroup       string       `json:"blood_group"`
	Address          string       `json:"address,omitempty"`
	Phone            string       `json:"phone,omitempty"`
	RegistrationDate string       `json:"registration_date,omitempty"`
	RecordCounts     RecordCounts `json:"record_counts"`
}

// RecordCounts backs the per-department summary badge.
type RecordCounts struct {
	MRI       int `json:"mri"`
	XRay      int `json:"xray"`
	ECG       int `json:"ecg"`
	Blood     int `json:"blood"`
	CT        int `json:"ct"`
	Treatment int `json:"treatment"`
}

func (c RecordCounts) Total() int {
	return c.MRI + c.XRay + c.ECG + c.Blood + c.CT + c.Treatment
}

// Add increments the counter for dept. Unknown departments are ignored.
func (c *RecordCounts) Add(dept Department, n int) {
	switch dept {
	case DepartmentMRI:
		c.MRI += n
	case DepartmentXRay:
		c.XRay += n
	case DepartmentECG:
		c.ECG += n
	case DepartmentBlood:
		c.Blood += n
	case DepartmentCT:
		c.CT += n
	case DepartmentTreatment:
		c.Treatment += n
	}
}

type SearchResult struct {
	Profile *PatientProfile  `json:"profile"`
	Records []EvidenceRecord `json:"records"`
}

type PatientSummary struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
}

type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Name     string `json:"name"`
}

// Session is the explicit operator context handed to a conversation.
type Session struct {
	ID   string `json:"id"`
	User User   `json:"user"`
}

type PatientAnalytics struct {
	TotalVisits        int              `json:"total_visits"`
	TotalTests         int              `json:"total_tests"`
	DepartmentsVisited map[string]int   `json:"departments_visited"`
	VisitTimeline      []Visit          `json:"visit_timeline"`
	TreatmentSummary   TreatmentSummary `json:"treatment_summary"`
	HealthTrend        string           `json:"health_trend"`
	RecentResults      []Visit          `json:"recent_results"`
}

type Visit struct {
	Date string `json:"date"`
	Type string `json:"type"`
	Test string `json:"test"`
}

type TreatmentSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Scheduled  int `json:"scheduled"`
}

type DepartmentRecords struct {
	Department string           `json:"department"`
	Total      int              `json:"total"`
	Records    []EvidenceRecord `json:"records"`
}
