// Package recordsapi is the HTTP client of the hospital records backend.
package recordsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

const (
	QueryFieldQuery    = "query"
	QueryFieldQuestion = "question"

	apiPrefix = "/api"
)

type Options struct {
	HTTPClient *http.Client
	Executor   *resilience.Executor
	Limiter    *rate.Limiter
	Contract   *Contract
	// QueryField names the deep-query text field; older backends expect "question".
	QueryField string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
	contract   *Contract
	queryField string
}

var (
	_ ports.RecordsBackend   = (*Client)(nil)
	_ ports.RecordsDirectory = (*Client)(nil)
)

func New(baseURL string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	queryField := strings.TrimSpace(options.QueryField)
	if queryField == "" {
		queryField = QueryFieldQuery
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + apiPrefix,
		httpClient: httpClient,
		executor:   options.Executor,
		limiter:    options.Limiter,
		contract:   options.Contract,
		queryField: queryField,
	}
}

// SearchPatient resolves a patient ID or name. A null profile maps to
// domain.ErrPatientNotFound.
func (c *Client) SearchPatient(ctx context.Context, term string) (*domain.SearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("term is required"))
	}

	var body map[string]json.RawMessage
	err := c.getJSON(ctx, "/search", url.Values{"term": {term}}, &body, "search", schemaSearch)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.WrapError(domain.ErrPatientNotFound, "search", err)
		}
		return nil, err
	}

	result, err := decodeSearch(body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrMalformedResponse, "search", err)
	}
	if result.Profile == nil {
		return nil, domain.WrapError(domain.ErrPatientNotFound, "search", fmt.Errorf("no profile matches %q", term))
	}
	return result, nil
}

func (c *Client) DeepQuery(ctx context.Context, req domain.DeepQueryRequest) (*domain.DeepQueryAnswer, error) {
	patientID := strings.TrimSpace(req.PatientID)
	if patientID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "deep_query", errors.New("patient_id is required"))
	}
	payload := map[string]string{
		"patient_id": patientID,
		c.queryField: req.Query,
	}

	var wire deepQueryWire
	if err := c.postJSON(ctx, "/deep-query", payload, &wire, "deep_query", schemaDeepQuery); err != nil {
		return nil, err
	}
	return wire.toDomain(), nil
}

func (c *Client) AnalyzeDocument(ctx context.Context, req domain.DocumentAnalysisRequest) (*domain.DocumentAnalysis, error) {
	fields := map[string]string{
		"patient_id": req.PatientID,
		"question":   req.Question,
	}
	var analysis domain.DocumentAnalysis
	if err := c.postMultipart(ctx, "/analyze-document", req.File, fields, &analysis, "analyze_document", schemaDocumentAnalysis); err != nil {
		return nil, err
	}
	analysis.Analysis = strings.TrimSpace(analysis.Analysis)
	return &analysis, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*domain.User, error) {
	var response struct {
		Success bool         `json:"success"`
		Message string       `json:"message"`
		User    *domain.User `json:"user"`
	}
	payload := map[string]string{"username": username, "password": password}
	if err := c.postJSON(ctx, "/login", payload, &response, "login", ""); err != nil {
		return nil, err
	}
	if !response.Success || response.User == nil {
		return nil, domain.WrapError(domain.ErrUnauthorized, "login", errors.New(response.Message))
	}
	return response.User, nil
}

func (c *Client) ListPatients(ctx context.Context) ([]domain.PatientSummary, error) {
	var response struct {
		Patients []domain.PatientSummary `json:"patients"`
	}
	if err := c.getJSON(ctx, "/patients", nil, &response, "patients", ""); err != nil {
		return nil, err
	}
	return response.Patients, nil
}

func (c *Client) PatientAnalytics(ctx context.Context, patientID string) (*domain.PatientAnalytics, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "analytics", errors.New("patient_id is required"))
	}
	var analytics domain.PatientAnalytics
	if err := c.getJSON(ctx, "/analytics/"+url.PathEscape(patientID), nil, &analytics, "analytics", ""); err != nil {
		return nil, err
	}
	return &analytics, nil
}

func (c *Client) DepartmentRecords(ctx context.Context, department string) (*domain.DepartmentRecords, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "department", errors.New("department is required"))
	}
	var response struct {
		Department string           `json:"department"`
		Total      int              `json:"total"`
		Records    []map[string]any `json:"records"`
	}
	if err := c.getJSON(ctx, "/department/"+url.PathEscape(department), nil, &response, "department", ""); err != nil {
		if isNotFound(err) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "department", err)
		}
		return nil, err
	}

	out := &domain.DepartmentRecords{
		Department: response.Department,
		Total:      response.Total,
		Records:    make([]domain.EvidenceRecord, 0, len(response.Records)),
	}
	for _, row := range response.Records {
		out.Records = append(out.Records, recordFromMap(department, row))
	}
	return out, nil
}

// InitData asks the backend to seed its sample patients and returns its message.
func (c *Client) InitData(ctx context.Context) (string, error) {
	var response struct {
		Message         string `json:"message"`
		PatientsCreated int    `json:"patients_created"`
	}
	if err := c.postJSON(ctx, "/init-data", nil, &response, "init_data", ""); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%d patients)", response.Message, response.PatientsCreated), nil
}

// ClearData deletes every profile and record on the backend. The call is idempotent,
// so the executor may retry it.
func (c *Client) ClearData(ctx context.Context) (string, error) {
	var response struct {
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, "/clear-data", nil, &response, "clear_data", ""); err != nil {
		return "", err
	}
	return response.Message, nil
}
