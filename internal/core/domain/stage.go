package domain

// ConversationStage gates what free text means to the Deep Search controller.
type ConversationStage string

const (
	StageAwaitingPatient  ConversationStage = "awaiting_patient"
	StageVerifyingPatient ConversationStage = "verifying_patient"
	StageLocked           ConversationStage = "locked"
)

// HasPatient reports whether a selected patient must exist in this stage.
func (s ConversationStage) HasPatient() bool {
	return s == StageVerifyingPatient || s == StageLocked
}

// InputField is the field a voice transcript is delivered to.
type InputField string

const (
	FieldPatientLookup InputField = "patient_lookup"
	FieldQuestion      InputField = "question"
)

// FocusedField returns the input that is active while in stage s.
func (s ConversationStage) FocusedField() InputField {
	if s == StageLocked {
		return FieldQuestion
	}
	return FieldPatientLookup
}
