package recordsapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

const maxErrorBodyBytes = 4096

// HTTPStatusError is a non-2xx answer from the records backend. Body is shown to the
// operator as the failure detail.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "records status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("records %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("records %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Detail() string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return body
	}
	return e.Status
}

func newHTTPStatusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func classifyRecordsError(err error) resilience.ErrorClassification {
	if domain.IsKind(err, domain.ErrMalformedResponse) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
	return resilience.ClassifyHTTPError(err)
}

// wrapRecordsError attaches the semantic kind callers branch on while keeping the
// HTTPStatusError in the chain.
func wrapRecordsError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrMalformedResponse) {
		return err
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.WrapError(domain.ErrUnauthorized, operation, err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		}
	}

	class := classifyRecordsError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("records %s: %w", operation, err)
}

func isNotFound(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
