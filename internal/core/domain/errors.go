package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTemporary          = errors.New("temporary failure")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrMalformedResponse  = errors.New("malformed backend response")
	ErrBusy               = errors.New("operation already in progress")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrSessionNotFound    = errors.New("session not found")

	ErrUnsupportedFileType = fmt.Errorf("unsupported file type: %w", ErrInvalidInput)
	ErrFileTooLarge        = fmt.Errorf("file too large: %w", ErrInvalidInput)

	ErrSpeechUnsupported = errors.New("speech is not supported on this host")
	// ErrNoSpeech ends a listening attempt without surfacing anything.
	ErrNoSpeech = errors.New("no speech detected")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
