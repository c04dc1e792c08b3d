// Package synth streams synthesized speech as whole-sample audio frames.
//
// A [Synthesizer] opens one remote byte stream per call and re-cuts its
// irregular fragments into [audio.Frame] values with [audio.Segmenter], so no
// frame ever splits a sample.
package synth

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/tts"
)

// ErrSynthesis is matched by every [*Error] via errors.Is.
var ErrSynthesis = errors.New("synth: synthesis failed")

// Error reports a failure to open or read the remote stream.
type Error struct {
	// Op is "open" or "read".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("synth: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSynthesis) true for any *Error.
func (e *Error) Is(target error) bool { return target == ErrSynthesis }

// Config selects the model, voice and output format for every request.
type Config struct {
	ModelID   string
	VoiceMode string
	VoiceID   string
	Container string
	Encoding  string
	// SampleRate of the produced frames. Zero selects
	// [audio.DefaultOutputSampleRate].
	SampleRate int
}

func (c Config) withDefaults() Config {
	if c.VoiceMode == "" {
		c.VoiceMode = "id"
	}
	if c.Container == "" {
		c.Container = "raw"
	}
	if c.Encoding == "" {
		c.Encoding = audio.EncodingF32LE
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultOutputSampleRate
	}
	return c
}

// Synthesizer wraps a [tts.Synthesizer]. It holds no per-call state and is
// safe for concurrent use if the backend is.
type Synthesizer struct {
	backend tts.Synthesizer
	cfg     Config
}

// New validates cfg and returns a Synthesizer.
func New(backend tts.Synthesizer, cfg Config) (*Synthesizer, error) {
	if backend == nil {
		return nil, errors.New("synth: backend is required")
	}
	cfg = cfg.withDefaults()
	if _, err := audio.NewSegmenter(cfg.Encoding, cfg.SampleRate); err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}
	return &Synthesizer{backend: backend, cfg: cfg}, nil
}

// SampleRate returns the rate of every frame this Synthesizer yields.
func (s *Synthesizer) SampleRate() int { return s.cfg.SampleRate }

// Request builds the backend request for text.
func (s *Synthesizer) Request(text string) tts.Request {
	return tts.Request{
		ModelID:    s.cfg.ModelID,
		Transcript: text,
		Voice:      tts.Voice{Mode: s.cfg.VoiceMode, ID: s.cfg.VoiceID},
		Format: tts.OutputFormat{
			Container:  s.cfg.Container,
			Encoding:   s.cfg.Encoding,
			SampleRate: s.cfg.SampleRate,
		},
	}
}

// Synthesize returns a lazy sequence of frames for text. Nothing happens until
// the sequence is ranged over; each range opens a fresh remote stream.
//
// A failure is yielded once, as a *Error paired with a zero Frame, after any
// frames already produced. Context cancellation yields ctx.Err(). The remote
// stream is closed when the sequence ends, including when the consumer stops
// early.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) iter.Seq2[audio.Frame, error] {
	return func(yield func(audio.Frame, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(audio.Frame{}, err)
			return
		}

		seg, err := audio.NewSegmenter(s.cfg.Encoding, s.cfg.SampleRate)
		if err != nil {
			yield(audio.Frame{}, &Error{Op: "open", Err: err})
			return
		}

		stream, err := s.backend.Synthesize(ctx, s.Request(text))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(audio.Frame{}, ctxErr)
				return
			}
			yield(audio.Frame{}, &Error{Op: "open", Err: err})
			return
		}
		defer stream.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield(audio.Frame{}, err)
				return
			}
			if !stream.Next() {
				break
			}
			if f, ok := seg.Push(stream.Fragment()); ok {
				if !yield(f, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(audio.Frame{}, ctxErr)
				return
			}
			// Partial bytes of a broken stream are dropped.
			yield(audio.Frame{}, &Error{Op: "read", Err: err})
			return
		}
		if f, ok := seg.Flush(); ok {
			yield(f, nil)
		}
	}
}
