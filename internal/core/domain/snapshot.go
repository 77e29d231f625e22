package domain

// Draft is text captured into an input field, typically by voice.
type Draft struct {
	Field InputField `json:"field"`
	Text  string     `json:"text"`
}

// ConversationSnapshot is a copy of the controller state safe to render or serialize.
type ConversationSnapshot struct {
	SessionID       string            `json:"session_id"`
	Open            bool              `json:"open"`
	Stage           ConversationStage `json:"stage"`
	SelectedPatient *PatientProfile   `json:"selected_patient,omitempty"`
	Messages        []Message         `json:"messages"`
	PendingUpload   *UploadInfo       `json:"pending_upload,omitempty"`
	Draft           Draft             `json:"draft"`
	IsLoading       bool              `json:"is_loading"`
	IsAnalyzing     bool              `json:"is_analyzing"`
	IsListening     bool              `json:"is_listening"`
	IsSpeaking      bool              `json:"is_speaking"`
	VoiceOutput     bool              `json:"voice_output"`
	VoiceInput      bool              `json:"voice_input_supported"`
}

// Preferences survive across conversations and restarts.
type Preferences struct {
	VoiceOutput bool `yaml:"voice_output"`
}
