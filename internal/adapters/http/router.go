package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/patient-deep-search/internal/config"
	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/evidence"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/observability/metrics"
)

const (
	serviceName = "api"
	// multipart framing on top of the largest accepted document
	maxUploadRequestBytes = domain.MaxUploadBytes + 1<<20
	maxJSONBodyBytes      = 64 << 10
)

// FileStager keeps an uploaded body on disk for the lifetime of its session.
type FileStager interface {
	Save(ctx context.Context, key string, data io.Reader) (string, error)
	Remove(path string) error
}

// FileLoader describes a staged file as a domain upload.
type FileLoader interface {
	Load(path, displayName string) (domain.UploadedFile, error)
}

type Router struct {
	cfg      config.Config
	sessions *Sessions
	stager   FileStager
	loader   FileLoader
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
}

func NewRouter(
	cfg config.Config,
	sessions *Sessions,
	stager FileStager,
	loader FileLoader,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:      cfg,
		sessions: sessions,
		stager:   stager,
		loader:   loader,
		metrics:  httpMetrics,
		logger:   slog.Default(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/sessions", rt.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", rt.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", rt.closeSession)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", rt.submitMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/confirm", rt.confirmPatient)
	mux.HandleFunc("POST /v1/sessions/{id}/change", rt.changePatient)
	mux.HandleFunc("POST /v1/sessions/{id}/files", rt.selectFile)
	mux.HandleFunc("DELETE /v1/sessions/{id}/files", rt.removeFile)
	mux.HandleFunc("POST /v1/sessions/{id}/analyze", rt.analyzeFile)
	mux.HandleFunc("PUT /v1/sessions/{id}/voice", rt.setVoiceOutput)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait, rt.recordRejection)
	if rt.cfg.APIRateLimitRPS > 0 {
		burst := rt.cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		handler = rateLimitMiddleware(handler, rate.NewLimiter(rate.Limit(rt.cfg.APIRateLimitRPS), burst), rt.recordRejection)
	}
	handler = authMiddleware(handler, rt.cfg.APIAuthToken)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) recordRejection(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejectedRequest(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": rt.sessions.Len()})
}

type sessionResponse struct {
	domain.ConversationSnapshot
	// Panels maps evidence message ids to their rendered, capped view.
	Panels  map[string]evidence.Panel `json:"evidence_panels,omitempty"`
	Notices []domain.Notice           `json:"notices"`
	Applied *bool                     `json:"applied,omitempty"`
}

type errorResponse struct {
	Error     string          `json:"error"`
	RequestID string          `json:"request_id,omitempty"`
	Notices   []domain.Notice `json:"notices,omitempty"`
}

func (rt *Router) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r, &req, true); err != nil {
		rt.writeError(w, r, err, nil)
		return
	}
	user := domain.User{
		Username: strings.TrimSpace(req.Username),
		Name:     strings.TrimSpace(req.Name),
		Role:     strings.TrimSpace(req.Role),
	}

	_, conv, err := rt.sessions.Create(user)
	if err != nil {
		rt.writeError(w, r, err, nil)
		return
	}
	rt.writeSession(w, http.StatusCreated, conv, nil)
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	rt.writeSession(w, http.StatusOK, conv, nil)
}

func (rt *Router) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.sessions.Close(r.PathValue("id")); err != nil {
		rt.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) submitMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		rt.writeError(w, r, err, conv)
		return
	}
	if err := conv.SubmitUserText(r.Context(), req.Text); err != nil {
		rt.writeError(w, r, err, conv)
		return
	}
	rt.writeSession(w, http.StatusOK, conv, nil)
}

func (rt *Router) confirmPatient(w http.ResponseWriter, r *http.Request) {
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	applied := conv.ConfirmPatient()
	rt.writeSession(w, http.StatusOK, conv, &applied)
}

func (rt *Router) changePatient(w http.ResponseWriter, r *http.Request) {
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	applied := conv.ChangePatient()
	rt.writeSession(w, http.StatusOK, conv, &applied)
}

func (rt *Router) selectFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	if rt.stager == nil || rt.loader == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrTemporary, "select file", errors.New("uploads are not configured")), conv)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			rt.writeError(w, r, domain.WrapError(domain.ErrFileTooLarge, "select file", err), conv)
			return
		}
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "select file", errors.New("multipart field 'file' is required")), conv)
		return
	}
	defer file.Close()

	key := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	path, err := rt.stager.Save(r.Context(), key, file)
	if err != nil {
		rt.writeError(w, r, err, conv)
		return
	}

	upload, err := rt.loader.Load(path, filepath.Base(header.Filename))
	if err == nil {
		err = conv.SelectFile(upload)
	}
	if err != nil {
		rt.discardStaged(path)
		rt.writeError(w, r, err, conv)
		return
	}
	if !rt.sessions.Stage(id, path) {
		// closed or evicted while the upload was being read
		rt.discardStaged(path)
		rt.writeError(w, r, domain.WrapError(domain.ErrSessionNotFound, "select file", fmt.Errorf("id=%s", id)), nil)
		return
	}
	rt.writeSession(w, http.StatusOK, conv, nil)
}

func (rt *Router) discardStaged(path string) {
	if err := rt.stager.Remove(path); err != nil {
		rt.logger.Warn("staged_upload_remove_failed", "path", path, "error", err)
	}
}

func (rt *Router) removeFile(w http.ResponseWriter, r *http.Request) {
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	applied := conv.RemoveFile()
	rt.writeSession(w, http.StatusOK, conv, &applied)
}

func (rt *Router) analyzeFile(w http.ResponseWriter, r *http.Request) {
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := decodeJSON(r, &req, true); err != nil {
		rt.writeError(w, r, err, conv)
		return
	}
	if err := conv.AnalyzeFile(r.Context(), req.Question); err != nil {
		rt.writeError(w, r, err, conv)
		return
	}
	rt.writeSession(w, http.StatusOK, conv, nil)
}

func (rt *Router) setVoiceOutput(w http.ResponseWriter, r *http.Request) {
	conv, ok := rt.conversation(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req, false); err != nil {
		rt.writeError(w, r, err, conv)
		return
	}
	if req.Enabled == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "set voice", errors.New("field 'enabled' is required")), conv)
		return
	}
	if err := conv.SetVoiceOutput(*req.Enabled); err != nil {
		rt.writeError(w, r, err, conv)
		return
	}
	rt.writeSession(w, http.StatusOK, conv, nil)
}

func (rt *Router) conversation(w http.ResponseWriter, r *http.Request) (ports.Conversation, bool) {
	conv, err := rt.sessions.Get(r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err, nil)
		return nil, false
	}
	return conv, true
}

func (rt *Router) writeSession(w http.ResponseWriter, status int, conv ports.Conversation, applied *bool) {
	snapshot := conv.Snapshot()
	resp := sessionResponse{
		ConversationSnapshot: snapshot,
		Notices:              conv.DrainNotices(),
		Applied:              applied,
	}
	if resp.Notices == nil {
		resp.Notices = []domain.Notice{}
	}
	for _, msg := range snapshot.Messages {
		if msg.Kind != domain.MessageEvidence {
			continue
		}
		if resp.Panels == nil {
			resp.Panels = make(map[string]evidence.Panel)
		}
		resp.Panels[msg.ID] = evidence.Render(msg.Evidence, rt.cfg.EvidenceDisplayLimit)
	}
	writeJSON(w, status, resp)
}

// writeError also drains pending notices, which usually explain a rejection.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error, conv ports.Conversation) {
	status := mapErrorToHTTPStatus(err)
	resp := errorResponse{Error: err.Error(), RequestID: requestIDFromContext(r.Context())}
	if conv != nil {
		resp.Notices = conv.DrainNotices()
	}
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed", "request_id", resp.RequestID, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a small JSON body. allowEmpty accepts a missing body.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
