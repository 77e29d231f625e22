// Package speech provides the host speech devices behind the voice adapter: a
// Whisper-style transcription client fed by a capture command and a TTS client
// that pipes audio into a player command.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
)

const maxAudioBytes = 32 << 20

// Unsupported stands in for a missing microphone or speaker.
type Unsupported struct{}

func (Unsupported) Available() bool { return false }

func (Unsupported) Listen(context.Context) (string, error) {
	return "", domain.ErrSpeechUnsupported
}

func (Unsupported) Speak(context.Context, string) error {
	return domain.ErrSpeechUnsupported
}

// CommandRunner runs an external program, feeding stdin when non-nil, and returns
// its stdout.
type CommandRunner func(ctx context.Context, argv []string, stdin io.Reader) ([]byte, error)

func execRunner(ctx context.Context, argv []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}

// commandAvailable reports whether the program of a command line is on PATH.
func commandAvailable(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	_, err := exec.LookPath(argv[0])
	return err == nil
}

type Config struct {
	TranscribeURL  string
	CaptureCommand string
	TTSURL         string
	TTSVoice       string
	PlayerCommand  string
	HTTPClient     *http.Client
	Executor       *resilience.Executor
	Runner         CommandRunner
}

// Detect builds the speech devices this host supports. Anything unconfigured or
// missing from PATH falls back to Unsupported.
func Detect(cfg Config, logger *slog.Logger) (ports.SpeechInput, ports.SpeechOutput) {
	if logger == nil {
		logger = slog.Default()
	}
	var input ports.SpeechInput = Unsupported{}
	var output ports.SpeechOutput = Unsupported{}

	capture := strings.Fields(cfg.CaptureCommand)
	switch {
	case strings.TrimSpace(cfg.TranscribeURL) == "" || len(capture) == 0:
		logger.Info("speech_input_disabled", "reason", "not_configured")
	case cfg.Runner == nil && !commandAvailable(capture):
		logger.Warn("speech_input_disabled", "reason", "capture_command_not_found", "command", capture[0])
	default:
		input = NewRecognizer(cfg)
	}

	player := strings.Fields(cfg.PlayerCommand)
	switch {
	case strings.TrimSpace(cfg.TTSURL) == "" || len(player) == 0:
		logger.Info("speech_output_disabled", "reason", "not_configured")
	case cfg.Runner == nil && !commandAvailable(player):
		logger.Warn("speech_output_disabled", "reason", "player_command_not_found", "command", player[0])
	default:
		output = NewSpeaker(cfg)
	}
	return input, output
}

type statusError struct {
	service    string
	statusCode int
	status     string
	body       string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("%s status: %s", e.service, e.status)
	}
	return fmt.Sprintf("%s status: %s: %s", e.service, e.status, e.body)
}

func (e *statusError) HTTPStatusCode() int { return e.statusCode }

func readStatusError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &statusError{
		service:    service,
		statusCode: resp.StatusCode,
		status:     resp.Status,
		body:       strings.TrimSpace(string(body)),
	}
}

func execute(ctx context.Context, executor *resilience.Executor, operation string, call func(context.Context) error) error {
	if executor == nil {
		return call(ctx)
	}
	return executor.Execute(ctx, operation, call, resilience.ClassifyHTTPError)
}
