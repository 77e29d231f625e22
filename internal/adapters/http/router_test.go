package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/config"
	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/evidence"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/core/usecase"
)

type backendFake struct {
	gate    chan struct{}
	entered chan struct{}
}

func newBackendFake() *backendFake { return &backendFake{} }

func (f *backendFake) SearchPatient(_ context.Context, term string) (*domain.SearchResult, error) {
	if !strings.EqualFold(term, "P1001") {
		return nil, domain.ErrPatientNotFound
	}
	age := 42
	return &domain.SearchResult{Profile: &domain.PatientProfile{
		PatientID: "P1001", Name: "Tara Smith", Age: &age, Gender: "Female", BloodGroup: "O+",
	}}, nil
}

func (f *backendFake) DeepQuery(ctx context.Context, req domain.DeepQueryRequest) (*domain.DeepQueryAnswer, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	records := make([]domain.EvidenceRecord, 0, 8)
	for i := 0; i < 8; i++ {
		records = append(records, domain.EvidenceRecord{Kind: domain.RecordTest, Department: domain.DepartmentBlood, Title: fmt.Sprintf("CBC %d", i)})
	}
	return &domain.DeepQueryAnswer{PatientID: req.PatientID, Answer: "Eight blood reports found.", Evidence: records}, nil
}

func (f *backendFake) AnalyzeDocument(context.Context, domain.DocumentAnalysisRequest) (*domain.DocumentAnalysis, error) {
	return &domain.DocumentAnalysis{Analysis: "Normal sinus rhythm."}, nil
}

type stagerFake struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *stagerFake) Save(_ context.Context, key string, data io.Reader) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := "/staged/" + key
	s.files[path] = raw
	return path, nil
}

func (s *stagerFake) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

func (s *stagerFake) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// loaderFake sniffs staged bytes the way a browser would.
type loaderFake struct {
	stager *stagerFake
}

func (l loaderFake) Load(path, name string) (domain.UploadedFile, error) {
	l.stager.mu.Lock()
	raw := l.stager.files[path]
	l.stager.mu.Unlock()
	return domain.UploadedFile{
		Filename: name,
		MimeType: http.DetectContentType(raw),
		Size:     int64(len(raw)),
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(raw)), nil },
	}, nil
}

type testRouter struct {
	*Router
	sessions *Sessions
	stager   *stagerFake
}

func newTestRouter(cfg config.Config, backend ports.RecordsBackend) testRouter {
	sessions := NewSessions(func(session domain.Session) ports.Conversation {
		return usecase.NewDeepSearch(backend, usecase.DeepSearchOptions{Session: session, RequestTimeout: 2 * time.Second})
	}, SessionOptions{})
	stager := &stagerFake{files: make(map[string][]byte)}
	sessions.opts.Remover = stager
	return testRouter{
		Router:   NewRouter(cfg, sessions, stager, loaderFake{stager: stager}, nil),
		sessions: sessions,
		stager:   stager,
	}
}

type sessionBody struct {
	SessionID     string                    `json:"session_id"`
	Stage         string                    `json:"stage"`
	Messages      []domain.Message          `json:"messages"`
	PendingUpload *domain.UploadInfo        `json:"pending_upload"`
	Panels        map[string]evidence.Panel `json:"evidence_panels"`
	Notices       []domain.Notice           `json:"notices"`
	Applied       *bool                     `json:"applied"`
	Error         string                    `json:"error"`
}

func do(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, sessionBody) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var decoded sessionBody
	if res.Body.Len() > 0 {
		if err := json.Unmarshal(res.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, res.Body.String(), err)
		}
	}
	return res, decoded
}

func upload(t *testing.T, handler http.Handler, path, filename string, content []byte) (*httptest.ResponseRecorder, sessionBody) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, _ := writer.CreateFormFile("file", filename)
	_, _ = part.Write(content)
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var decoded sessionBody
	_ = json.Unmarshal(res.Body.Bytes(), &decoded)
	return res, decoded
}

func TestSessionFlowLocksPatientAndRendersEvidence(t *testing.T) {
	handler := newTestRouter(config.Config{EvidenceDisplayLimit: 6}, newBackendFake()).Handler()

	res, created := do(t, handler, http.MethodPost, "/v1/sessions", map[string]string{"username": "dr.rao"})
	if res.Code != http.StatusCreated || created.SessionID == "" {
		t.Fatalf("create: expected 201 with id, got %d %+v", res.Code, created)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected X-Request-Id header")
	}
	if len(created.Messages) != 1 || created.Stage != string(domain.StageAwaitingPatient) {
		t.Fatalf("expected greeting only, got %+v", created)
	}
	base := "/v1/sessions/" + created.SessionID

	_, lookup := do(t, handler, http.MethodPost, base+"/messages", map[string]string{"text": "P1001"})
	if lookup.Stage != string(domain.StageVerifyingPatient) {
		t.Fatalf("expected verifying stage, got %q", lookup.Stage)
	}

	_, confirmed := do(t, handler, http.MethodPost, base+"/confirm", nil)
	if confirmed.Applied == nil || !*confirmed.Applied || confirmed.Stage != string(domain.StageLocked) {
		t.Fatalf("unexpected confirm response: %+v", confirmed)
	}

	_, answered := do(t, handler, http.MethodPost, base+"/messages", map[string]string{"text": "fetch blood reports"})
	last := answered.Messages[len(answered.Messages)-1]
	if last.Kind != domain.MessageEvidence {
		t.Fatalf("expected evidence message last, got %+v", last)
	}
	panel, ok := answered.Panels[last.ID]
	if !ok || len(panel.Items) != 6 || panel.Hidden != 2 {
		t.Fatalf("unexpected evidence panel: %+v", answered.Panels)
	}
	if panel.Items[0].Department != "Blood Profile" || panel.Items[0].Result != evidence.Placeholder {
		t.Fatalf("unexpected rendered item: %+v", panel.Items[0])
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	handler := newTestRouter(config.Config{}, newBackendFake()).Handler()
	res, body := do(t, handler, http.MethodPost, "/v1/sessions/missing/messages", map[string]string{"text": "P1001"})
	if res.Code != http.StatusNotFound || body.Error == "" {
		t.Fatalf("expected 404 with error, got %d %+v", res.Code, body)
	}
}

func TestSubmitWhileBusyReturns409(t *testing.T) {
	backend := newBackendFake()
	handler := newTestRouter(config.Config{}, backend).Handler()
	_, created := do(t, handler, http.MethodPost, "/v1/sessions", nil)
	base := "/v1/sessions/" + created.SessionID
	do(t, handler, http.MethodPost, base+"/messages", map[string]string{"text": "P1001"})
	do(t, handler, http.MethodPost, base+"/confirm", nil)

	backend.gate = make(chan struct{})
	backend.entered = make(chan struct{}, 1)
	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, base+"/messages", strings.NewReader(`{"text":"fetch blood reports"}`))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()
	<-backend.entered

	res, _ := do(t, handler, http.MethodPost, base+"/messages", map[string]string{"text": "and the ECG?"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 while busy, got %d", res.Code)
	}

	close(backend.gate)
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Fatalf("first request expected 200, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the first request")
	}
}

func TestUploadRejectionReturns400AndDropsStagedFile(t *testing.T) {
	tr := newTestRouter(config.Config{}, newBackendFake())
	handler := tr.Handler()
	_, created := do(t, handler, http.MethodPost, "/v1/sessions", nil)
	base := "/v1/sessions/" + created.SessionID

	res, body := upload(t, handler, base+"/files", "notes.txt", []byte("plain clinical notes"))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(body.Notices) != 1 || body.Notices[0].Level != domain.NoticeError {
		t.Fatalf("expected the rejection notice, got %+v", body.Notices)
	}
	if tr.stager.count() != 0 {
		t.Fatalf("rejected upload must not stay staged")
	}
}

func TestUploadAcceptedThenSessionCloseRemovesIt(t *testing.T) {
	tr := newTestRouter(config.Config{}, newBackendFake())
	handler := tr.Handler()
	_, created := do(t, handler, http.MethodPost, "/v1/sessions", nil)
	base := "/v1/sessions/" + created.SessionID

	res, body := upload(t, handler, base+"/files", "ecg.pdf", []byte("%PDF-1.4\n"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if body.PendingUpload == nil || body.PendingUpload.MimeType != "application/pdf" || body.PendingUpload.Filename != "ecg.pdf" {
		t.Fatalf("unexpected pending upload: %+v", body.PendingUpload)
	}

	res, body = do(t, handler, http.MethodPost, base+"/analyze", nil)
	if res.Code != http.StatusBadRequest || len(body.Notices) == 0 {
		t.Fatalf("expected 400 with notice when no patient, got %d %+v", res.Code, body)
	}

	res, _ = do(t, handler, http.MethodDelete, base, nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if tr.stager.count() != 0 {
		t.Fatalf("expected staged file removed on close")
	}
	if res, _ := do(t, handler, http.MethodGet, base, nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected closed session to be gone, got %d", res.Code)
	}
}

func TestAnalyzeUploadedDocument(t *testing.T) {
	handler := newTestRouter(config.Config{}, newBackendFake()).Handler()
	_, created := do(t, handler, http.MethodPost, "/v1/sessions", nil)
	base := "/v1/sessions/" + created.SessionID
	do(t, handler, http.MethodPost, base+"/messages", map[string]string{"text": "P1001"})
	upload(t, handler, base+"/files", "ecg.pdf", []byte("%PDF-1.4\n"))

	res, body := do(t, handler, http.MethodPost, base+"/analyze", map[string]string{"question": "rhythm?"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	last := body.Messages[len(body.Messages)-1]
	if last.Kind != domain.MessageAnalysis || last.Text != "Normal sinus rhythm." || body.PendingUpload != nil {
		t.Fatalf("unexpected analysis result: %+v pending=%+v", last, body.PendingUpload)
	}

	res, body = do(t, handler, http.MethodDelete, base+"/files", nil)
	if res.Code != http.StatusOK || body.Applied == nil || *body.Applied {
		t.Fatalf("expected nothing to remove, got %d %+v", res.Code, body.Applied)
	}
}

func TestVoiceAndBodyErrors(t *testing.T) {
	handler := newTestRouter(config.Config{}, newBackendFake()).Handler()
	_, created := do(t, handler, http.MethodPost, "/v1/sessions", nil)
	base := "/v1/sessions/" + created.SessionID

	if res, _ := do(t, handler, http.MethodPut, base+"/voice", map[string]bool{"enabled": true}); res.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without speech output, got %d", res.Code)
	}
	if res, _ := do(t, handler, http.MethodPut, base+"/voice", map[string]string{}); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without enabled, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, base+"/messages", strings.NewReader("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken json, got %d", res.Code)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrBusy, http.StatusConflict},
		{domain.WrapError(domain.ErrSessionNotFound, "get", errors.New("id=x")), http.StatusNotFound},
		{domain.ErrConversationClosed, http.StatusGone},
		{domain.ErrFileTooLarge, http.StatusBadRequest},
		{domain.WrapError(domain.ErrUnauthorized, "login", errors.New("denied")), http.StatusUnauthorized},
		{domain.ErrSpeechUnsupported, http.StatusNotImplemented},
		{domain.WrapError(domain.ErrTemporary, "create", errors.New("full")), http.StatusServiceUnavailable},
		{&http.MaxBytesError{Limit: 1}, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// evictingConv accepts a file but lets its session disappear first, as an idle
// eviction racing the upload would.
type evictingConv struct {
	convFake
	evict func()
}

func (c *evictingConv) SelectFile(domain.UploadedFile) error {
	c.evict()
	return nil
}

func TestSelectFileDiscardsUploadWhenSessionVanishes(t *testing.T) {
	stager := &stagerFake{files: make(map[string][]byte)}
	var sessions *Sessions
	var sessionID string
	sessions = NewSessions(func(domain.Session) ports.Conversation {
		return &evictingConv{evict: func() { _ = sessions.Close(sessionID) }}
	}, SessionOptions{Remover: stager})
	id, _, err := sessions.Create(domain.User{Username: "dr.rao"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sessionID = id
	handler := NewRouter(config.Config{}, sessions, stager, loaderFake{stager: stager}, nil).Handler()

	res, _ := upload(t, handler, "/v1/sessions/"+id+"/files", "ecg.pdf", []byte("%PDF-1.4\n"))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 once the session is gone, got %d: %s", res.Code, res.Body.String())
	}
	if n := stager.count(); n != 0 {
		t.Fatalf("expected the staged upload removed, %d file(s) left", n)
	}
}
