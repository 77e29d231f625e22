package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/core/validation"
	"github.com/kirillkom/patient-deep-search/internal/core/voice"
)

const defaultRequestTimeout = 30 * time.Second

type DeepSearchOptions struct {
	Session        domain.Session
	Voice          *voice.Adapter
	Audit          ports.AuditSink
	Observer       ports.DeepSearchObserver
	Logger         *slog.Logger
	RequestTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
}

// DeepSearch gates free-text clinical queries behind patient search, verification and
// lock. One instance serves one operator; all methods are safe for concurrent use.
type DeepSearch struct {
	backend  ports.RecordsBackend
	voice    *voice.Adapter
	audit    ports.AuditSink
	observer ports.DeepSearchObserver
	logger   *slog.Logger
	session  domain.Session
	timeout  time.Duration
	now      func() time.Time
	newID    func() string

	mu         sync.Mutex
	open       bool
	generation uint64
	stage      domain.ConversationStage
	patient    *domain.PatientProfile
	messages   []domain.Message
	pending    *domain.UploadedFile
	draft      domain.Draft
	loading    bool
	analyzing  bool
	notices    []domain.Notice
}

var _ ports.Conversation = (*DeepSearch)(nil)

func NewDeepSearch(backend ports.RecordsBackend, opts DeepSearchOptions) *DeepSearch {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Voice == nil {
		opts.Voice = voice.NewAdapter(nil, nil, nil, opts.Logger)
	}

	return &DeepSearch{
		backend:  backend,
		voice:    opts.Voice,
		audit:    opts.Audit,
		observer: opts.Observer,
		logger:   opts.Logger.With("session_id", opts.Session.ID),
		session:  opts.Session,
		timeout:  opts.RequestTimeout,
		now:      opts.Now,
		newID:    opts.NewID,
		stage:    domain.StageAwaitingPatient,
		draft:    domain.Draft{Field: domain.FieldPatientLookup},
	}
}

// Open starts a fresh conversation with the greeting. Opening an open conversation
// does nothing.
func (d *DeepSearch) Open() {
	d.mu.Lock()
	if d.open {
		d.mu.Unlock()
		return
	}
	d.generation++
	d.resetLocked()
	d.open = true
	d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyGreeting})
	d.mu.Unlock()

	d.logger.Info("deepsearch_opened")
}

// Close discards all conversation state. Backend results still in flight are dropped
// when they arrive.
func (d *DeepSearch) Close() {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return
	}
	d.generation++
	d.resetLocked()
	d.open = false
	d.mu.Unlock()

	d.voice.Shutdown()
	d.logger.Info("deepsearch_closed")
}

func (d *DeepSearch) SubmitUserText(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)

	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return domain.ErrConversationClosed
	}
	if trimmed == "" {
		d.mu.Unlock()
		return nil
	}
	if d.loading {
		d.mu.Unlock()
		return domain.ErrBusy
	}

	d.appendLocked(domain.Message{Kind: domain.MessageUser, Text: trimmed})
	d.draft = domain.Draft{Field: d.stage.FocusedField()}

	switch d.stage {
	case domain.StageAwaitingPatient:
		if !validation.IsValidPatientLookup(trimmed) {
			d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyInvalidLookup})
			d.mu.Unlock()
			d.observer.RecordRejection("invalid_patient_lookup")
			return nil
		}
		d.loading = true
		gen := d.generation
		d.mu.Unlock()

		d.lookupPatient(ctx, gen, trimmed)
		return nil

	case domain.StageVerifyingPatient:
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyUseButtons})
		d.mu.Unlock()
		return nil

	default:
		if !validation.IsMeaningfulQuestion(trimmed) {
			d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyTrivialQuestion})
			d.mu.Unlock()
			d.observer.RecordRejection("trivial_question")
			return nil
		}
		if d.patient == nil || strings.TrimSpace(d.patient.PatientID) == "" {
			d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyMissingPatientID})
			d.mu.Unlock()
			d.observer.RecordRejection("missing_patient_id")
			return nil
		}
		d.loading = true
		gen := d.generation
		patientID := d.patient.PatientID
		d.mu.Unlock()

		d.runDeepQuery(ctx, gen, patientID, trimmed)
		return nil
	}
}

func (d *DeepSearch) lookupPatient(ctx context.Context, gen uint64, term string) {
	defer d.finishLoading(gen)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := d.now()
	result, err := d.backend.SearchPatient(callCtx, term)
	elapsed := d.now().Sub(started)

	found := err == nil && result != nil && result.Profile != nil && hasIdentity(*result.Profile)
	outcome, detail := domain.AuditSuccess, ""
	switch {
	case err == nil && !found, domain.IsKind(err, domain.ErrPatientNotFound):
		outcome = domain.AuditNotFound
	case err != nil:
		outcome, detail = domain.AuditError, errorDetail(err, d.timeout)
	}
	patientID := ""
	if found {
		patientID = result.Profile.PatientID
	}
	d.recordOperation(ctx, domain.AuditPatientLookup, outcome, patientID, term, detail, elapsed)

	d.mu.Lock()
	if !d.currentLocked(gen) {
		d.mu.Unlock()
		d.logger.Debug("deepsearch_stale_result_dropped", "operation", domain.AuditPatientLookup)
		return
	}
	d.loading = false

	var spoken []string
	switch outcome {
	case domain.AuditNotFound:
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyPatientNotFound})
	case domain.AuditError:
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyLookupFailed(detail)})
	default:
		profile := *result.Profile
		d.patient = &profile
		d.transitionLocked(domain.StageVerifyingPatient)
		summary := replyPatientSummary(profile)
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: summary})
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyConfirmPrompt})
		spoken = append(spoken, summary, replyConfirmPrompt)
	}
	d.mu.Unlock()

	if outcome == domain.AuditError {
		d.logger.Warn("deepsearch_patient_lookup_failed", "error", err)
	}
	d.speak(spoken...)
}

func (d *DeepSearch) runDeepQuery(ctx context.Context, gen uint64, patientID, question string) {
	defer d.finishLoading(gen)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := d.now()
	answer, err := d.backend.DeepQuery(callCtx, domain.DeepQueryRequest{PatientID: patientID, Query: question})
	elapsed := d.now().Sub(started)

	outcome, detail := domain.AuditSuccess, ""
	if err != nil {
		outcome, detail = domain.AuditError, errorDetail(err, d.timeout)
	}
	d.recordOperation(ctx, domain.AuditDeepQuery, outcome, patientID, question, detail, elapsed)

	d.mu.Lock()
	if !d.currentLocked(gen) {
		d.mu.Unlock()
		d.logger.Debug("deepsearch_stale_result_dropped", "operation", domain.AuditDeepQuery)
		return
	}
	d.loading = false

	var spoken []string
	switch {
	case err != nil:
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyDeepQueryFailed(detail)})
	case answer == nil:
		d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyEmptyResponse})
	default:
		if text := strings.TrimSpace(answer.Answer); text != "" {
			d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: text})
			spoken = append(spoken, text)
		} else {
			d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyNoAnswerField})
		}
		if len(answer.Evidence) > 0 {
			evidence := make([]domain.EvidenceRecord, len(answer.Evidence))
			copy(evidence, answer.Evidence)
			d.appendLocked(domain.Message{Kind: domain.MessageEvidence, Evidence: evidence})
		}
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("deepsearch_deep_query_failed", "patient_id", patientID, "error", err)
	}
	d.speak(spoken...)
}

// ConfirmPatient locks the verified patient. It reports false and changes nothing
// unless a patient is awaiting verification.
func (d *DeepSearch) ConfirmPatient() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open || d.stage != domain.StageVerifyingPatient || d.patient == nil {
		return false
	}
	d.transitionLocked(domain.StageLocked)
	d.draft = domain.Draft{Field: domain.FieldQuestion}
	d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyPatientLocked(*d.patient)})
	return true
}

// ChangePatient drops the selected patient and returns to search. It is ignored while
// a backend request is in flight.
func (d *DeepSearch) ChangePatient() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open || d.stage == domain.StageAwaitingPatient {
		return false
	}
	if d.loading || d.analyzing {
		d.noticeLocked(domain.NoticeWarn, noticeWaitForRequest)
		return false
	}
	d.transitionLocked(domain.StageAwaitingPatient)
	d.draft = domain.Draft{Field: domain.FieldPatientLookup}
	d.appendLocked(domain.Message{Kind: domain.MessageAssistant, Text: replyChangePatient})
	return true
}

// StartListening captures one utterance and places the transcript in the draft of the
// field focused when it arrives.
func (d *DeepSearch) StartListening(ctx context.Context) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return domain.ErrConversationClosed
	}
	gen := d.generation
	d.mu.Unlock()

	err := d.voice.StartListening(ctx,
		func(transcript string) { d.deliverTranscript(gen, transcript) },
		func(err error) { d.listeningFailed(gen, err) },
	)
	if errors.Is(err, domain.ErrSpeechUnsupported) {
		d.addNotice(domain.NoticeError, noticeVoiceUnsupported)
		return nil
	}
	return err
}

func (d *DeepSearch) StopListening() {
	d.voice.StopListening()
}

func (d *DeepSearch) deliverTranscript(gen uint64, transcript string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.currentLocked(gen) {
		return
	}
	d.draft = domain.Draft{Field: d.stage.FocusedField(), Text: transcript}
}

func (d *DeepSearch) listeningFailed(gen uint64, err error) {
	d.logger.Warn("deepsearch_speech_recognition_failed", "error", err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.currentLocked(gen) {
		return
	}
	d.noticeLocked(domain.NoticeError, noticeVoiceFailed(err))
}

// SetVoiceOutput toggles reading replies aloud. Enabling it without a speech output
// device fails with ErrSpeechUnsupported and leaves it off.
func (d *DeepSearch) SetVoiceOutput(enabled bool) error {
	err := d.voice.SetOutputEnabled(enabled)
	switch {
	case errors.Is(err, domain.ErrSpeechUnsupported):
		d.addNotice(domain.NoticeError, noticeVoiceOutput)
		return err
	case err != nil:
		// The toggle is applied; only persisting it failed.
		d.logger.Warn("deepsearch_voice_preference_save_failed", "error", err)
	}
	return nil
}

func (d *DeepSearch) StopSpeaking() {
	d.voice.StopSpeaking()
}

func (d *DeepSearch) Snapshot() domain.ConversationSnapshot {
	d.mu.Lock()
	snapshot := domain.ConversationSnapshot{
		SessionID:   d.session.ID,
		Open:        d.open,
		Stage:       d.stage,
		Messages:    make([]domain.Message, len(d.messages)),
		Draft:       d.draft,
		IsLoading:   d.loading,
		IsAnalyzing: d.analyzing,
	}
	copy(snapshot.Messages, d.messages)
	if d.patient != nil {
		patient := *d.patient
		snapshot.SelectedPatient = &patient
	}
	if d.pending != nil {
		info := d.pending.Info()
		snapshot.PendingUpload = &info
	}
	d.mu.Unlock()

	snapshot.IsListening = d.voice.Listening()
	snapshot.IsSpeaking = d.voice.Speaking()
	snapshot.VoiceOutput = d.voice.OutputEnabled()
	snapshot.VoiceInput = d.voice.InputSupported()
	return snapshot
}

// DrainNotices returns the notices raised since the previous call.
func (d *DeepSearch) DrainNotices() []domain.Notice {
	d.mu.Lock()
	defer d.mu.Unlock()
	notices := d.notices
	d.notices = nil
	return notices
}

func (d *DeepSearch) resetLocked() {
	d.stage = domain.StageAwaitingPatient
	d.patient = nil
	d.messages = nil
	d.pending = nil
	d.draft = domain.Draft{Field: domain.FieldPatientLookup}
	d.loading = false
	d.analyzing = false
	d.notices = nil
}

func (d *DeepSearch) currentLocked(gen uint64) bool {
	return d.open && d.generation == gen
}

func (d *DeepSearch) finishLoading(gen uint64) {
	d.mu.Lock()
	if d.generation == gen {
		d.loading = false
	}
	d.mu.Unlock()
}

func (d *DeepSearch) transitionLocked(to domain.ConversationStage) {
	from := d.stage
	d.stage = to
	if to == domain.StageAwaitingPatient {
		d.patient = nil
	}
	if from != to {
		d.observer.RecordStageTransition(from, to)
	}
}

func (d *DeepSearch) appendLocked(msg domain.Message) {
	msg.ID = d.newID()
	msg.CreatedAt = d.now().UTC()
	d.messages = append(d.messages, msg)
}

func (d *DeepSearch) addNotice(level domain.NoticeLevel, text string) {
	d.mu.Lock()
	d.noticeLocked(level, text)
	d.mu.Unlock()
}

func (d *DeepSearch) noticeLocked(level domain.NoticeLevel, text string) {
	d.notices = append(d.notices, domain.Notice{Level: level, Text: text})
}

func (d *DeepSearch) speak(parts ...string) {
	if len(parts) == 0 {
		return
	}
	d.voice.Speak(strings.Join(parts, "\n"))
}

// recordOperation reports one backend call to metrics and the audit trail. Audit
// failures are logged and never reach the operator.
func (d *DeepSearch) recordOperation(
	ctx context.Context,
	operation domain.AuditOperation,
	outcome domain.AuditOutcome,
	patientID string,
	term string,
	detail string,
	elapsed time.Duration,
) {
	d.observer.ObserveBackendCall(operation, outcome, elapsed)
	if d.audit == nil {
		return
	}

	event := domain.AuditEvent{
		ID:         d.newID(),
		SessionID:  d.session.ID,
		Username:   d.session.User.Username,
		Operation:  operation,
		PatientID:  patientID,
		Term:       term,
		Outcome:    outcome,
		Detail:     detail,
		DurationMS: float64(elapsed.Microseconds()) / 1000,
		OccurredAt: d.now().UTC(),
	}
	if err := d.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		d.logger.Warn("deepsearch_audit_record_failed", "operation", operation, "error", err)
	}
}

func hasIdentity(profile domain.PatientProfile) bool {
	return strings.TrimSpace(profile.PatientID) != "" || strings.TrimSpace(profile.Name) != ""
}

// errorDetail is the operator-facing text for a failed backend call. Upstream HTTP
// errors contribute their response body.
func errorDetail(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timed out after %s", timeout)
	}
	var detailed interface{ Detail() string }
	if errors.As(err, &detailed) {
		if detail := strings.TrimSpace(detailed.Detail()); detail != "" {
			return detail
		}
	}
	return err.Error()
}

type noopObserver struct{}

func (noopObserver) ObserveBackendCall(domain.AuditOperation, domain.AuditOutcome, time.Duration) {}
func (noopObserver) RecordStageTransition(domain.ConversationStage, domain.ConversationStage)     {}
func (noopObserver) RecordRejection(string)                                                       {}
