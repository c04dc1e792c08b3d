package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voiceloop/pkg/provider/stt"
)

// STTFallback implements [stt.Recognizer] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
//
// [stt.ErrNoSpeech] is an answer, not a failure: it is returned straight away
// and never trips a breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

// Compile-time interface assertion.
var _ stt.Recognizer = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Final = orFinal(cfg.Final, func(err error) bool { return errors.Is(err, stt.ErrNoSpeech) })
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *STTFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// Recognize transcribes pcm with the first healthy recognizer.
func (f *STTFallback) Recognize(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error) {
	return ExecuteWithResult(f.group, func(r stt.Recognizer) (string, error) {
		return r.Recognize(ctx, pcm, sampleRate, sampleWidth)
	})
}

// orFinal combines two final-error predicates.
func orFinal(a, b func(error) bool) func(error) bool {
	if a == nil {
		return b
	}
	return func(err error) bool { return a(err) || b(err) }
}
