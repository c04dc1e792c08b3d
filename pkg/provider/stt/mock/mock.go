// Package mock provides a test double for the stt.Recognizer interface.
//
// Example:
//
//	r := &mock.Recognizer{Text: "hello"}
//	text, _ := r.Recognize(ctx, pcm, 16000, 2)
//	// r.Calls[0].PCM == pcm
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceloop/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// PCM is a copy of the audio passed to Recognize.
	PCM []byte
	// SampleRate is the rate passed to Recognize.
	SampleRate int
	// SampleWidth is the sample width passed to Recognize.
	SampleWidth int
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Text is returned by every Recognize call when Err is nil.
	Text string

	// Err, if non-nil, is returned by every Recognize call.
	Err error

	// Block, if true, makes Recognize wait until ctx is done and return its
	// error. Useful for cancellation tests.
	Block bool

	// Calls records every call to Recognize in order.
	Calls []RecognizeCall
}

// Recognize records the call and returns Text, Err.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error) {
	r.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	r.Calls = append(r.Calls, RecognizeCall{PCM: cp, SampleRate: sampleRate, SampleWidth: sampleWidth})
	text, err, block := r.Text, r.Err, r.Block
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}

var _ stt.Recognizer = (*Recognizer)(nil)
