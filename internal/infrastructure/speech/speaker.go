package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

// Speaker synthesizes text over HTTP and plays the returned audio.
type Speaker struct {
	ttsURL     string
	voice      string
	player     []string
	httpClient *http.Client
	executor   *resilience.Executor
	run        CommandRunner
}

func NewSpeaker(cfg Config) *Speaker {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	run := cfg.Runner
	if run == nil {
		run = execRunner
	}
	return &Speaker{
		ttsURL:     strings.TrimSpace(cfg.TTSURL),
		voice:      strings.TrimSpace(cfg.TTSVoice),
		player:     strings.Fields(cfg.PlayerCommand),
		httpClient: httpClient,
		executor:   cfg.Executor,
		run:        run,
	}
}

func (s *Speaker) Available() bool {
	return s.ttsURL != "" && len(s.player) > 0
}

// Speak returns once playback finishes or ctx is cancelled.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if !s.Available() {
		return domain.ErrSpeechUnsupported
	}
	audio, err := s.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return nil
	}
	if _, err := s.run(ctx, s.player, bytes.NewReader(audio)); err != nil {
		return fmt.Errorf("play audio: %w", err)
	}
	return nil
}

func (s *Speaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text, "voice": s.voice})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	var audio []byte
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ttsURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create tts request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("tts request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return readStatusError("tts", resp)
		}
		audio, err = io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
		if err != nil {
			return fmt.Errorf("read tts audio: %w", err)
		}
		return nil
	}

	if err := execute(ctx, s.executor, "speech.synthesize", call); err != nil {
		return nil, err
	}
	return audio, nil
}
