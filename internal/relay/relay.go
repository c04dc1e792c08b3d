// Package relay serves the text variant of a turn: the agent's reply is
// streamed as server-sent events, one sanitized chunk per event.
//
//	POST /llm/stream?session_id=<id>
//	{"messages":[{"role":"user","content":"..."}]}
//
//	data: {"content":"Hello"}
//
//	data: {"content":"there."}
//
// Agent failures are rendered inline as {"error":{"stage":"agent",...}}
// followed by the end of the stream.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voiceloop/internal/agent"
	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/internal/pipeline"
	"github.com/MrWong99/voiceloop/internal/session"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
	"github.com/MrWong99/voiceloop/pkg/textclean"
)

// maxBodyBytes caps the request body.
const maxBodyBytes = 1 << 20

// Request is the relay request body.
type Request struct {
	Messages []Message `json:"messages"`
}

// Message is one conversation message of a Request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChunkEvent carries one sanitized piece of the reply.
type ChunkEvent struct {
	Content string `json:"content"`
}

// ErrorEvent reports a failed turn inline.
type ErrorEvent struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a [pipeline.TurnError].
type ErrorBody struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// NewErrorEvent renders err. A [*pipeline.TurnError] keeps its stage; any
// other error is reported as an agent failure.
func NewErrorEvent(err error) ErrorEvent {
	stage := string(pipeline.StageAgent)
	msg := err.Error()
	var te *pipeline.TurnError
	if errors.As(err, &te) {
		stage = string(te.Stage)
		msg = te.Err.Error()
	}
	return ErrorEvent{Error: ErrorBody{Stage: stage, Message: msg}}
}

// Handler serves the text relay.
type Handler struct {
	agent          agent.Agent
	guard          *session.Guard
	metrics        *observe.Metrics
	defaultSession string
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithDefaultSession sets the session used when a request names none.
// Without it, or with an empty id, session_id is required.
func WithDefaultSession(id string) Option {
	return func(h *Handler) { h.defaultSession = id }
}

// NewHandler returns a relay handler. Turns are serialised per session
// through guard, which the voice transport shares.
func NewHandler(ag agent.Agent, guard *session.Guard, opts ...Option) *Handler {
	h := &Handler{agent: ag, guard: guard}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = h.defaultSession
	}
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusUnprocessableEntity)
		return
	}
	ctx := observe.WithSession(r.Context(), sessionID)
	log := observe.Logger(ctx)

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "no messages provided", http.StatusBadRequest)
		return
	}
	msgs := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	if !agent.HasUserMessage(msgs) {
		http.Error(w, "no user message found", http.StatusBadRequest)
		return
	}

	release, ok := h.guard.TryAcquire(sessionID)
	if !ok {
		http.Error(w, session.ErrSessionBusy.Error(), http.StatusConflict)
		return
	}
	defer release()

	sw, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)

	log.Info("relay: processing", "messages", len(msgs))

	start := time.Now()
	var (
		firstChunk time.Duration
		chunks     int
		failed     bool
	)

	events, err := h.agent.Stream(ctx, sessionID, msgs)
	if err != nil {
		failed = true
		h.sendError(ctx, sw, sessionID, err)
	} else {
		for ev := range events {
			if ev.Err != nil {
				failed = true
				h.sendError(ctx, sw, sessionID, ev.Err)
				continue
			}
			if ev.Content == "" {
				continue
			}
			if chunks == 0 {
				firstChunk = time.Since(start)
				h.metrics.TimeToFirstToken.Record(ctx, firstChunk.Seconds())
				log.Info("relay: first chunk", "ttft_ms", firstChunk.Milliseconds())
			}
			chunks++
			clean := textclean.Sanitize(ev.Content)
			if clean == "" {
				continue
			}
			if err := sw.send(ChunkEvent{Content: clean}); err != nil {
				// Client went away; the agent stops with ctx.
				log.Debug("relay: write failed", "err", err)
			}
		}
	}

	outcome := observe.OutcomeOK
	if failed {
		outcome = observe.OutcomeError
	}
	if ctx.Err() != nil {
		outcome = observe.OutcomeCanceled
	}
	h.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("transport", "relay")))
	log.Info("relay: performance",
		"outcome", outcome,
		"ttft_ms", firstChunk.Milliseconds(),
		"llm_ms", time.Since(start).Milliseconds(),
		"chunks", chunks,
	)
}

func (h *Handler) sendError(ctx context.Context, sw *sseWriter, sessionID string, err error) {
	te := &pipeline.TurnError{Stage: pipeline.StageAgent, SessionID: sessionID, Err: err}
	if ctx.Err() != nil {
		te.Stage = pipeline.StageCanceled
	}
	observe.Logger(ctx).Error("relay: agent failed", "err", err)
	_ = sw.send(NewErrorEvent(te))
}
