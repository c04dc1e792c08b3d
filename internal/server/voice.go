package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/internal/pipeline"
	"github.com/MrWong99/voiceloop/internal/session"
	"github.com/MrWong99/voiceloop/pkg/audio"
)

// Message types exchanged on the voice socket.
const (
	TypeTurn    = "turn"
	TypeStart   = "start"
	TypeDone    = "done"
	TypeSilence = "silence"
	TypeError   = "error"
)

// Error stages that never come from a pipeline turn.
const (
	StageSession  = "session"
	StageProtocol = "protocol"
)

// DefaultReadLimit caps one client message. One minute of 48 kHz float32
// mono is a little over 11 MiB.
const DefaultReadLimit = 16 << 20

// TurnHeader announces the binary utterance that follows it.
type TurnHeader struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// TurnMetrics is the stage timing reported in a done message.
type TurnMetrics struct {
	STTMillis   int64 `json:"stt_ms"`
	LLMMillis   int64 `json:"llm_ms"`
	TTSMillis   int64 `json:"tts_ms"`
	TotalMillis int64 `json:"total_ms"`
	Chunks      int   `json:"chunks"`
}

// ServerMessage is every text message the server sends.
type ServerMessage struct {
	Type       string       `json:"type"`
	SampleRate int          `json:"sample_rate,omitempty"`
	Metrics    *TurnMetrics `json:"metrics,omitempty"`
	Stage      string       `json:"stage,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// VoiceHandler serves the voice socket. Turns on one connection run one after
// another; the session guard keeps a second connection or the text relay from
// overlapping a running turn of the same session.
type VoiceHandler struct {
	pipeline       *pipeline.Pipeline
	guard          *session.Guard
	readLimit      int64
	origins        []string
	defaultSession string
}

// VoiceOption configures a VoiceHandler.
type VoiceOption func(*VoiceHandler)

// WithReadLimit overrides DefaultReadLimit.
func WithReadLimit(n int64) VoiceOption {
	return func(h *VoiceHandler) { h.readLimit = n }
}

// WithOriginPatterns restricts the accepted browser origins. Without patterns
// any origin is accepted.
func WithOriginPatterns(patterns ...string) VoiceOption {
	return func(h *VoiceHandler) { h.origins = patterns }
}

// WithDefaultSession sets the session used when the socket URL names none.
// Without it, or with an empty id, session_id is required.
func WithDefaultSession(id string) VoiceOption {
	return func(h *VoiceHandler) { h.defaultSession = id }
}

// NewVoiceHandler returns a handler for GET /v1/voice.
func NewVoiceHandler(p *pipeline.Pipeline, guard *session.Guard, opts ...VoiceOption) *VoiceHandler {
	h := &VoiceHandler{pipeline: p, guard: guard, readLimit: DefaultReadLimit}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.origins) == 0,
		OriginPatterns:     h.origins,
	})
	if err != nil {
		log.Warn("voice: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	log.Info("voice: session connected")
	for {
		buf, err := readTurn(ctx, conn)
		if err != nil {
			var perr *protocolError
			if errors.As(err, &perr) {
				_ = wsjson.Write(ctx, conn, ServerMessage{Type: TypeError, Stage: StageProtocol, Message: perr.Error()})
				continue
			}
			if status := websocket.CloseStatus(err); status != -1 {
				log.Info("voice: session closed", "status", status.String())
			} else if ctx.Err() == nil {
				log.Warn("voice: read failed", "err", err)
			}
			return
		}

		if err := h.serveTurn(ctx, conn, sessionID, buf); err != nil {
			log.Warn("voice: write failed", "err", err)
			return
		}
	}
}

// serveTurn runs one turn and streams its result. The returned error is a
// transport failure; turn failures are reported to the client.
func (h *VoiceHandler) serveTurn(ctx context.Context, conn *websocket.Conn, sessionID string, buf audio.Buffer) error {
	release, ok := h.guard.TryAcquire(sessionID)
	if !ok {
		return wsjson.Write(ctx, conn, ServerMessage{
			Type:    TypeError,
			Stage:   StageSession,
			Message: session.ErrSessionBusy.Error(),
		})
	}
	defer release()

	turn := h.pipeline.RunTurn(ctx, sessionID, buf)
	started := false
	for frame, err := range turn.Frames() {
		if err != nil {
			return wsjson.Write(ctx, conn, errorMessage(err))
		}
		if !started {
			started = true
			if err := wsjson.Write(ctx, conn, ServerMessage{Type: TypeStart, SampleRate: h.pipeline.SampleRate()}); err != nil {
				return err
			}
		}
		if err := conn.Write(ctx, websocket.MessageBinary, frame.Bytes()); err != nil {
			return fmt.Errorf("server: write frame: %w", err)
		}
	}

	if turn.State() == pipeline.StateEarlyExit {
		return wsjson.Write(ctx, conn, ServerMessage{Type: TypeSilence})
	}
	m := turn.Metrics()
	return wsjson.Write(ctx, conn, ServerMessage{
		Type: TypeDone,
		Metrics: &TurnMetrics{
			STTMillis:   m.STTMillis(),
			LLMMillis:   m.LLMMillis(),
			TTSMillis:   m.TTSMillis(),
			TotalMillis: m.TotalMillis(),
			Chunks:      m.ChunkCount,
		},
	})
}

func errorMessage(err error) ServerMessage {
	msg := ServerMessage{Type: TypeError, Stage: string(pipeline.StageAgent), Message: err.Error()}
	var te *pipeline.TurnError
	if errors.As(err, &te) {
		msg.Stage = string(te.Stage)
		msg.Message = te.Err.Error()
	}
	return msg
}

type protocolError struct{ msg string }

func (e *protocolError) Error() string { return e.msg }

// readTurn reads one turn header and the binary utterance after it.
func readTurn(ctx context.Context, conn *websocket.Conn) (audio.Buffer, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return audio.Buffer{}, err
	}
	var hdr TurnHeader
	if typ != websocket.MessageText {
		return audio.Buffer{}, &protocolError{msg: "expected a turn header"}
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return audio.Buffer{}, &protocolError{msg: fmt.Sprintf("invalid turn header: %v", err)}
	}
	if hdr.Type != TypeTurn {
		return audio.Buffer{}, &protocolError{msg: fmt.Sprintf("unexpected message type %q", hdr.Type)}
	}

	typ, data, err = conn.Read(ctx)
	if err != nil {
		return audio.Buffer{}, err
	}
	if typ != websocket.MessageBinary {
		return audio.Buffer{}, &protocolError{msg: "turn header must be followed by a binary message"}
	}

	channels := hdr.Channels
	if channels <= 0 {
		channels = 1
	}
	buf, err := audio.BufferFromBytes(data, hdr.Encoding, hdr.SampleRate, channels)
	if err != nil {
		return audio.Buffer{}, &protocolError{msg: err.Error()}
	}
	if err := buf.Validate(); err != nil {
		return audio.Buffer{}, &protocolError{msg: err.Error()}
	}
	return buf, nil
}
