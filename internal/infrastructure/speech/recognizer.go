package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

// Recognizer records one utterance with the capture command and transcribes it.
type Recognizer struct {
	transcribeURL string
	capture       []string
	httpClient    *http.Client
	executor      *resilience.Executor
	run           CommandRunner
}

func NewRecognizer(cfg Config) *Recognizer {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	run := cfg.Runner
	if run == nil {
		run = execRunner
	}
	return &Recognizer{
		transcribeURL: strings.TrimSpace(cfg.TranscribeURL),
		capture:       strings.Fields(cfg.CaptureCommand),
		httpClient:    httpClient,
		executor:      cfg.Executor,
		run:           run,
	}
}

func (r *Recognizer) Available() bool {
	return r.transcribeURL != "" && len(r.capture) > 0
}

// Listen blocks until the capture command exits or ctx is cancelled. Silence and
// empty transcripts end with domain.ErrNoSpeech.
func (r *Recognizer) Listen(ctx context.Context) (string, error) {
	if !r.Available() {
		return "", domain.ErrSpeechUnsupported
	}
	audio, err := r.run(ctx, r.capture, nil)
	if err != nil {
		return "", fmt.Errorf("capture audio: %w", err)
	}
	if len(audio) == 0 {
		return "", domain.ErrNoSpeech
	}

	text, err := r.Transcribe(ctx, audio)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrNoSpeech
	}
	return strings.TrimSpace(text), nil
}

func (r *Recognizer) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	call := func(ctx context.Context) error {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "audio.wav")
		if err != nil {
			return fmt.Errorf("create audio part: %w", err)
		}
		if _, err := part.Write(audio); err != nil {
			return fmt.Errorf("write audio part: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("close multipart body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.transcribeURL, body)
		if err != nil {
			return fmt.Errorf("create transcribe request: %w", err)
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("transcribe request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return readStatusError("transcribe", resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode transcribe response: %w", err)
		}
		return nil
	}

	if err := execute(ctx, r.executor, "speech.transcribe", call); err != nil {
		return "", err
	}
	return result.Text, nil
}
