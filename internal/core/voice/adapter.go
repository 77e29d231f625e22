// Package voice owns speech recognition and synthesis for one operator. Both
// capabilities are optional; hosts without them get a stub from the speech package.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
)

type Adapter struct {
	input  ports.SpeechInput
	output ports.SpeechOutput
	prefs  ports.PreferenceStore
	logger *slog.Logger

	mu            sync.Mutex
	outputEnabled bool
	listening     bool
	listenCancel  context.CancelFunc
	listenSeq     uint64
	speaking      bool
	speakCancel   context.CancelFunc
	speakSeq      uint64
}

// NewAdapter loads the persisted voice-output toggle. prefs may be nil.
func NewAdapter(input ports.SpeechInput, output ports.SpeechOutput, prefs ports.PreferenceStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		input:  input,
		output: output,
		prefs:  prefs,
		logger: logger,
	}
	if prefs != nil {
		loaded, err := prefs.Load()
		if err != nil {
			logger.Warn("voice_preferences_load_failed", "error", err)
		} else {
			a.outputEnabled = loaded.VoiceOutput
		}
	}
	return a
}

func (a *Adapter) InputSupported() bool {
	return a != nil && a.input != nil && a.input.Available()
}

func (a *Adapter) OutputSupported() bool {
	return a != nil && a.output != nil && a.output.Available()
}

// StartListening captures one utterance in the background. deliver receives a
// non-empty transcript; fail receives recognition errors other than no-speech and
// cancellation. Neither is called after StopListening.
func (a *Adapter) StartListening(ctx context.Context, deliver func(string), fail func(error)) error {
	if !a.InputSupported() {
		return domain.ErrSpeechUnsupported
	}

	a.mu.Lock()
	if a.listening {
		a.mu.Unlock()
		return domain.ErrBusy
	}
	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.listenSeq++
	seq := a.listenSeq
	a.listening = true
	a.listenCancel = cancel
	a.mu.Unlock()

	go func() {
		defer cancel()
		transcript, err := a.input.Listen(listenCtx)

		a.mu.Lock()
		stopped := listenCtx.Err() != nil || a.listenSeq != seq
		if a.listenSeq == seq {
			a.listening = false
			a.listenCancel = nil
		}
		a.mu.Unlock()

		switch {
		case stopped:
			return
		case errors.Is(err, domain.ErrNoSpeech):
			return
		case err != nil:
			if fail != nil {
				fail(err)
			}
			return
		}
		transcript = strings.TrimSpace(transcript)
		if transcript == "" {
			return
		}
		if deliver != nil {
			deliver(transcript)
		}
	}()
	return nil
}

func (a *Adapter) StopListening() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listenCancel != nil {
		a.listenCancel()
		a.listenCancel = nil
	}
	a.listenSeq++
	a.listening = false
}

func (a *Adapter) Listening() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// Speak replaces any utterance in progress. It returns immediately.
func (a *Adapter) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" || !a.OutputSupported() {
		return
	}

	a.mu.Lock()
	if !a.outputEnabled {
		a.mu.Unlock()
		return
	}
	if a.speakCancel != nil {
		a.speakCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.speakSeq++
	seq := a.speakSeq
	a.speakCancel = cancel
	a.speaking = true
	a.mu.Unlock()

	go func() {
		defer cancel()
		err := a.output.Speak(ctx, text)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("speech_synthesis_failed", "error", err)
		}

		a.mu.Lock()
		if a.speakSeq == seq {
			a.speaking = false
			a.speakCancel = nil
		}
		a.mu.Unlock()
	}()
}

func (a *Adapter) StopSpeaking() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speakCancel != nil {
		a.speakCancel()
		a.speakCancel = nil
	}
	a.speakSeq++
	a.speaking = false
}

func (a *Adapter) Speaking() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

func (a *Adapter) OutputEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outputEnabled
}

// SetOutputEnabled flips the voice-output toggle and persists it. Turning output off
// also silences the current utterance.
func (a *Adapter) SetOutputEnabled(enabled bool) error {
	if enabled && !a.OutputSupported() {
		return domain.ErrSpeechUnsupported
	}
	a.mu.Lock()
	a.outputEnabled = enabled
	a.mu.Unlock()
	if !enabled {
		a.StopSpeaking()
	}
	if a.prefs == nil {
		return nil
	}
	return a.prefs.Save(domain.Preferences{VoiceOutput: enabled})
}

// Shutdown cancels listening and speaking.
func (a *Adapter) Shutdown() {
	a.StopListening()
	a.StopSpeaking()
}
