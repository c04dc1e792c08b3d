// Package pipeline runs one voice turn: captured audio in, synthesized frames
// out.
//
// A turn is strictly sequential. The captured buffer is normalized and
// transcribed; an empty transcript ends the turn silently. Otherwise the
// transcript goes to the agent, the reply is sanitized for speech, and the
// synthesizer's frames are handed to the caller as they arrive. Timing of each
// stage is logged once per turn and recorded as OpenTelemetry histograms.
//
// The pipeline holds no per-session state. Callers serialise turns of one
// session; see the session package.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voiceloop/internal/agent"
	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/internal/synth"
	"github.com/MrWong99/voiceloop/internal/transcribe"
	"github.com/MrWong99/voiceloop/pkg/audio"
)

// Config bounds each stage. A zero timeout leaves the stage bounded only by
// the turn's context.
type Config struct {
	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration
}

// Metrics is the timing of one turn. Total is measured from the start of the
// turn, so it is never less than the sum of the stages.
type Metrics struct {
	STT        time.Duration
	LLM        time.Duration
	TTS        time.Duration
	Total      time.Duration
	ChunkCount int
}

func (m Metrics) STTMillis() int64   { return m.STT.Milliseconds() }
func (m Metrics) LLMMillis() int64   { return m.LLM.Milliseconds() }
func (m Metrics) TTSMillis() int64   { return m.TTS.Milliseconds() }
func (m Metrics) TotalMillis() int64 { return m.Total.Milliseconds() }

// Pipeline is safe for concurrent use by multiple sessions.
type Pipeline struct {
	transcriber *transcribe.Transcriber
	agent       agent.Agent
	synth       *synth.Synthesizer
	cfg         Config
	metrics     *observe.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New assembles a pipeline from its collaborators.
func New(tr *transcribe.Transcriber, ag agent.Agent, sy *synth.Synthesizer, cfg Config, opts ...Option) (*Pipeline, error) {
	var errs []error
	if tr == nil {
		errs = append(errs, errors.New("pipeline: transcriber must not be nil"))
	}
	if ag == nil {
		errs = append(errs, errors.New("pipeline: agent must not be nil"))
	}
	if sy == nil {
		errs = append(errs, errors.New("pipeline: synthesizer must not be nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	p := &Pipeline{transcriber: tr, agent: ag, synth: sy, cfg: cfg}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// SampleRate is the rate of every frame the pipeline yields.
func (p *Pipeline) SampleRate() int { return p.synth.SampleRate() }

// RunTurn prepares a turn for buf. No work happens until the turn's frames
// are ranged over.
func (p *Pipeline) RunTurn(ctx context.Context, sessionID string, buf audio.Buffer) *Turn {
	return &Turn{p: p, ctx: ctx, sessionID: sessionID, buf: buf}
}

// stageContext applies a stage timeout when one is configured.
func stageContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
