package recordsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
)

const maxResponseBytes = 8 << 20

type requestBuilder func(ctx context.Context) (*http.Request, error)

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any, operation, schema string) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, operation, schema, out, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation, schema string) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		body = encoded
	}
	return c.do(ctx, operation, schema, out, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// postMultipart rebuilds the body on every attempt because the file part is streamed
// from UploadedFile.Open.
func (c *Client) postMultipart(ctx context.Context, path string, file domain.UploadedFile, fields map[string]string, out any, operation, schema string) error {
	if file.Open == nil {
		return domain.WrapError(domain.ErrInvalidInput, operation, errors.New("upload has no content"))
	}
	return c.do(ctx, operation, schema, out, func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := encodeMultipart(file, fields)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

func encodeMultipart(file domain.UploadedFile, fields map[string]string) (*bytes.Buffer, string, error) {
	src, err := file.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload %s: %w", file.Filename, err)
	}
	defer src.Close()

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Filename))
	header.Set("Content-Type", file.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, io.LimitReader(src, domain.MaxUploadBytes+1)); err != nil {
		return nil, "", fmt.Errorf("copy upload %s: %w", file.Filename, err)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func (c *Client) do(ctx context.Context, operation, schema string, out any, build requestBuilder) error {
	call := func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("records %s rate limit: %w", operation, err)
			}
		}
		req, err := build(ctx)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("records %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return newHTTPStatusError(operation, resp)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read %s response: %w", operation, err)
		}
		return c.decode(operation, schema, body, out)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "records."+operation, call, classifyRecordsError)
	} else {
		err = call(ctx)
	}
	return wrapRecordsError(operation, err)
}

func (c *Client) decode(operation, schema string, body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 || strings.TrimSpace(string(body)) == "null" {
		return domain.WrapError(domain.ErrMalformedResponse, operation, errors.New("empty response body"))
	}
	if schema != "" && c.contract != nil {
		if err := c.contract.Validate(schema, body); err != nil {
			return domain.WrapError(domain.ErrMalformedResponse, operation, err)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.WrapError(domain.ErrMalformedResponse, operation, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
