// Package stt defines the Recognizer interface for Speech-to-Text backends.
//
// A Recognizer performs batch recognition of one complete utterance: the
// capture layer has already decided where the turn begins and ends, so there
// is no streaming session to manage. The input is raw little-endian PCM plus
// its sample rate and sample width in bytes.
//
// Implementations must be safe for concurrent use; one Recognizer is shared by
// every session in the process.
package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when the backend processed the audio successfully
// but found nothing to transcribe.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// Recognizer is the abstraction over any batch STT backend.
type Recognizer interface {
	// Recognize returns the best transcription of pcm. sampleWidth is the size
	// of one sample in bytes (2 for 16-bit PCM).
	//
	// Returns ErrNoSpeech (possibly wrapped) when the audio holds no
	// recognizable speech, or another error on transport or backend failure.
	Recognize(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error)
}

// RecognizerFunc adapts a plain function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error) {
	return f(ctx, pcm, sampleRate, sampleWidth)
}
