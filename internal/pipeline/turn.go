package pipeline

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
	"github.com/MrWong99/voiceloop/pkg/textclean"
)

// Turn is one pass through the pipeline. Its frames can be ranged over once.
type Turn struct {
	p         *Pipeline
	ctx       context.Context
	sessionID string
	buf       audio.Buffer

	consumed atomic.Bool
	state    atomic.Int32

	mu         sync.Mutex
	metrics    Metrics
	transcript string
	reply      string
}

// State reports where the turn currently is.
func (t *Turn) State() State { return State(t.state.Load()) }

// Metrics returns the turn's timing. It is complete once the frame sequence
// has ended.
func (t *Turn) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

// Transcript returns the recognized text, empty until transcription ends.
func (t *Turn) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript
}

// Reply returns the sanitized reply text, empty until the agent answers.
func (t *Turn) Reply() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reply
}

func (t *Turn) setState(s State) { t.state.Store(int32(s)) }

// Frames runs the turn and yields synthesized frames as they are produced.
// A failure ends the sequence with a zero Frame and a *[TurnError]. An empty
// transcript yields nothing at all.
func (t *Turn) Frames() iter.Seq2[audio.Frame, error] {
	return func(yield func(audio.Frame, error) bool) {
		if !t.consumed.CompareAndSwap(false, true) {
			yield(audio.Frame{}, ErrTurnConsumed)
			return
		}
		t.run(yield)
	}
}

func (t *Turn) run(yield func(audio.Frame, error) bool) {
	start := time.Now()
	ctx, span := observe.StartSpan(t.ctx, "pipeline.turn")
	defer span.End()
	ctx = observe.WithSession(ctx, t.sessionID)

	outcome := observe.OutcomeOK
	defer func() { t.finish(ctx, start, outcome) }()

	fail := func(stage Stage, err error) {
		if stage != StageCanceled && ctx.Err() != nil {
			stage, err = StageCanceled, ctx.Err()
		}
		outcome = observe.OutcomeError
		if stage == StageCanceled {
			outcome = observe.OutcomeCanceled
		}
		t.setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		yield(audio.Frame{}, &TurnError{Stage: stage, SessionID: t.sessionID, Err: err})
	}

	if err := ctx.Err(); err != nil {
		fail(StageCanceled, err)
		return
	}

	// Transcribing.
	t.setState(StateTranscribing)
	stageStart := time.Now()
	sttCtx, cancel := stageContext(ctx, t.p.cfg.STTTimeout)
	tr := t.p.transcriber.Transcribe(sttCtx, audio.Normalize(t.buf), t.buf.SampleRate)
	cancel()
	t.record(func(m *Metrics) { m.STT = time.Since(stageStart) })
	t.p.metrics.STTDuration.Record(ctx, time.Since(stageStart).Seconds())

	if err := ctx.Err(); err != nil {
		fail(StageCanceled, err)
		return
	}
	if tr.Empty() {
		t.setState(StateEarlyExit)
		outcome = observe.OutcomeSilence
		return
	}
	t.mu.Lock()
	t.transcript = tr.Text
	t.mu.Unlock()

	// Thinking.
	t.setState(StateThinking)
	stageStart = time.Now()
	llmCtx, cancel := stageContext(ctx, t.p.cfg.LLMTimeout)
	reply, err := t.p.agent.Invoke(llmCtx, t.sessionID, []llm.Message{{Role: llm.RoleUser, Content: tr.Text}})
	cancel()
	t.record(func(m *Metrics) { m.LLM = time.Since(stageStart) })
	if err == nil && reply == nil {
		err = errNoReply
	}
	if err != nil {
		fail(StageAgent, err)
		return
	}

	text := textclean.Sanitize(reply.Content)
	t.mu.Lock()
	t.reply = text
	t.mu.Unlock()
	if text == "" {
		// Nothing speakable, e.g. a reply made only of markup.
		t.setState(StateIdle)
		return
	}

	// Synthesizing.
	t.setState(StateSynthesizing)
	stageStart = time.Now()
	ttsCtx, cancel := stageContext(ctx, t.p.cfg.TTSTimeout)
	defer cancel()
	defer func() {
		t.record(func(m *Metrics) { m.TTS = time.Since(stageStart) })
		t.p.metrics.TTSDuration.Record(ctx, time.Since(stageStart).Seconds())
	}()

	for frame, err := range t.p.synth.Synthesize(ttsCtx, text) {
		if err != nil {
			fail(StageSynthesis, err)
			return
		}
		t.record(func(m *Metrics) { m.ChunkCount++ })
		t.p.metrics.Frames.Add(ctx, 1)
		if !yield(frame, nil) {
			// Consumer stopped listening.
			outcome = observe.OutcomeCanceled
			t.setState(StateIdle)
			return
		}
	}
	t.setState(StateIdle)
}

func (t *Turn) record(f func(*Metrics)) {
	t.mu.Lock()
	f(&t.metrics)
	t.mu.Unlock()
}

// finish stamps the total and emits the per-turn log line and metrics.
func (t *Turn) finish(ctx context.Context, start time.Time, outcome string) {
	total := time.Since(start)
	t.record(func(m *Metrics) { m.Total = total })
	m := t.Metrics()

	t.p.metrics.TurnDuration.Record(ctx, total.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
	t.p.metrics.RecordTurn(ctx, outcome)

	observe.Logger(ctx).Info("turn complete",
		"outcome", outcome,
		"state", t.State().String(),
		"stt_ms", m.STTMillis(),
		"llm_ms", m.LLMMillis(),
		"tts_ms", m.TTSMillis(),
		"total_ms", m.TotalMillis(),
		"chunks", m.ChunkCount,
	)
}
