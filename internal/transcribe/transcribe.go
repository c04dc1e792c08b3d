// Package transcribe turns one canonical PCM utterance into text.
//
// The Transcriber never fails: every recognizer error, including
// cancellation and [stt.ErrNoSpeech], is logged, counted and downgraded to an
// empty [Transcript]. Callers treat an empty transcript as silence.
package transcribe

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/stt"
)

// Failure reasons reported on the stt failure counter.
const (
	ReasonEmptyAudio = "empty_audio"
	ReasonNoSpeech   = "no_speech"
	ReasonCanceled   = "canceled"
	ReasonTimeout    = "timeout"
	ReasonError      = "error"
)

// Transcript is the recognized text of one utterance.
type Transcript struct {
	Text string
}

// Empty reports whether the transcript holds no words.
func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}

// Option configures a Transcriber.
type Option func(*Transcriber)

// WithMetrics records failures and provider requests on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default: "stt".
func WithProviderName(name string) Option {
	return func(t *Transcriber) { t.provider = name }
}

// Transcriber wraps an [stt.Recognizer]. It is safe for concurrent use if the
// recognizer is.
type Transcriber struct {
	rec      stt.Recognizer
	metrics  *observe.Metrics
	provider string
}

// New returns a Transcriber backed by rec.
func New(rec stt.Recognizer, opts ...Option) *Transcriber {
	t := &Transcriber{rec: rec, provider: "stt"}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Transcribe recognizes pcm, captured at sampleRate Hz. The result is
// trimmed; it is empty on any failure.
func (t *Transcriber) Transcribe(ctx context.Context, pcm audio.CanonicalPCM, sampleRate int) Transcript {
	ctx, span := observe.StartSpan(ctx, "transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.Int("audio.bytes", len(pcm)),
		attribute.Int("audio.sample_rate", sampleRate),
	)

	log := observe.Logger(ctx)
	if len(pcm) == 0 {
		log.Debug("transcribe: empty audio")
		t.metrics.RecordSTTFailure(ctx, ReasonEmptyAudio)
		return Transcript{}
	}

	text, err := t.rec.Recognize(ctx, pcm, sampleRate, audio.CanonicalSampleWidth)
	if err != nil {
		reason := classify(err)
		if reason == ReasonNoSpeech {
			log.Debug("transcribe: no speech", "provider", t.provider)
		} else {
			log.Warn("transcribe: recognizer failed", "provider", t.provider, "reason", reason, "err", err)
			t.metrics.RecordProviderRequest(ctx, t.provider, "stt", "error")
		}
		t.metrics.RecordSTTFailure(ctx, reason)
		span.SetAttributes(attribute.String("stt.failure", reason))
		return Transcript{}
	}
	t.metrics.RecordProviderRequest(ctx, t.provider, "stt", "ok")

	return Transcript{Text: strings.TrimSpace(text)}
}

func classify(err error) string {
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		return ReasonNoSpeech
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonError
	}
}
