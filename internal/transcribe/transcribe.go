// Package transcribe wraps the external speech-to-text provider.
package transcribe

import (
	"context"
	"errors"
)

// ErrTranscriptionFailed wraps every provider-side failure; the
// orchestrator reports it to the operator rather than guessing at the
// audio's content.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Transcriber turns an audio blob into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
