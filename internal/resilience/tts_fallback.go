package resilience

import (
	"context"

	"github.com/MrWong99/voiceloop/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS backend as a fallback.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize opens a stream on the first healthy backend. Only opening the
// stream is covered by failover: once bytes have been handed out, a
// mid-stream error is reported by the stream and cannot be replayed
// elsewhere without duplicating audio.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (tts.Stream, error) {
		return s.Synthesize(ctx, req)
	})
}
