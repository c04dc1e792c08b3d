package server_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	agentmock "github.com/MrWong99/voiceloop/internal/agent/mock"
	"github.com/MrWong99/voiceloop/internal/health"
	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/internal/pipeline"
	"github.com/MrWong99/voiceloop/internal/relay"
	"github.com/MrWong99/voiceloop/internal/server"
	"github.com/MrWong99/voiceloop/internal/session"
	"github.com/MrWong99/voiceloop/internal/synth"
	"github.com/MrWong99/voiceloop/internal/transcribe"
	sttmock "github.com/MrWong99/voiceloop/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voiceloop/pkg/provider/tts/mock"
)

type fixture struct {
	rec   *sttmock.Recognizer
	agent *agentmock.Agent
	tts   *ttsmock.Synthesizer
	guard *session.Guard
	url   string
}

func newFixture(t *testing.T, text, reply string, fragments ...[]byte) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		rec:   &sttmock.Recognizer{Text: text},
		agent: &agentmock.Agent{Content: reply},
		tts:   &ttsmock.Synthesizer{Fragments: fragments},
		guard: session.NewGuard(m),
	}
	sy, err := synth.New(f.tts, synth.Config{})
	if err != nil {
		t.Fatalf("synth.New: %v", err)
	}
	p, err := pipeline.New(transcribe.New(f.rec, transcribe.WithMetrics(m)), f.agent, sy, pipeline.Config{}, pipeline.WithMetrics(m))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	h := server.Handler(server.Routes{
		Voice:  server.NewVoiceHandler(p, f.guard),
		Relay:  relay.NewHandler(f.agent, f.guard, relay.WithMetrics(m)),
		Health: health.New(),
	}, m)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	f.url = "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice?session_id=s1"
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func f32le(samples ...float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func sendTurn(t *testing.T, ctx context.Context, conn *websocket.Conn, payload []byte) {
	t.Helper()
	hdr, _ := json.Marshal(server.TurnHeader{Type: server.TypeTurn, SampleRate: 16000, Channels: 1, Encoding: "f32le"})
	if err := conn.Write(ctx, websocket.MessageText, hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func readText(t *testing.T, ctx context.Context, conn *websocket.Conn) server.ServerMessage {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("want text message, got %v (%d bytes)", typ, len(data))
	}
	var msg server.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func TestVoice_FullTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "what's the weather", "**Sunny** and warm!", f32le(0.5, -0.5), f32le(0.25))
	conn := f.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendTurn(t, ctx, conn, f32le(0.1, -0.1, 0.2))

	start := readText(t, ctx, conn)
	if start.Type != server.TypeStart || start.SampleRate != 24000 {
		t.Fatalf("want start at 24000 Hz, got %+v", start)
	}

	var samples int
	for range 2 {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if typ != websocket.MessageBinary {
			t.Fatalf("want binary frame, got %v %q", typ, data)
		}
		if len(data)%4 != 0 {
			t.Errorf("want whole float32 samples, got %d bytes", len(data))
		}
		samples += len(data) / 4
	}
	if samples != 3 {
		t.Errorf("want 3 samples, got %d", samples)
	}

	done := readText(t, ctx, conn)
	if done.Type != server.TypeDone || done.Metrics == nil {
		t.Fatalf("want done with metrics, got %+v", done)
	}
	if done.Metrics.Chunks != 2 {
		t.Errorf("want 2 chunks, got %d", done.Metrics.Chunks)
	}
	if got := f.tts.Requests()[0].Transcript; got != "Sunny and warm!" {
		t.Errorf("want sanitized transcript, got %q", got)
	}
	if calls := f.agent.InvokeCalls(); len(calls) != 1 || calls[0].ThreadID != "s1" {
		t.Errorf("want one invocation on thread s1, got %+v", calls)
	}
}

func TestVoice_Silence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "", "unused")
	conn := f.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendTurn(t, ctx, conn, f32le(0, 0))
	if msg := readText(t, ctx, conn); msg.Type != server.TypeSilence {
		t.Errorf("want silence, got %+v", msg)
	}

	// The connection keeps serving turns.
	sendTurn(t, ctx, conn, f32le(0))
	if msg := readText(t, ctx, conn); msg.Type != server.TypeSilence {
		t.Errorf("want second silence, got %+v", msg)
	}
}

func TestVoice_AgentError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "hello", "")
	f.agent.InvokeErr = errors.New("model overloaded")
	conn := f.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendTurn(t, ctx, conn, f32le(0.1))
	msg := readText(t, ctx, conn)
	if msg.Type != server.TypeError || msg.Stage != string(pipeline.StageAgent) {
		t.Fatalf("want agent error, got %+v", msg)
	}
	if !strings.Contains(msg.Message, "model overloaded") {
		t.Errorf("want cause in message, got %q", msg.Message)
	}
}

func TestVoice_BusySession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "hello", "hi", f32le(0.1))
	release, ok := f.guard.TryAcquire("s1")
	if !ok {
		t.Fatal("want guard acquired")
	}
	defer release()

	conn := f.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendTurn(t, ctx, conn, f32le(0.1))
	msg := readText(t, ctx, conn)
	if msg.Type != server.TypeError || msg.Stage != server.StageSession {
		t.Errorf("want session error, got %+v", msg)
	}
	if f.rec.CallCount() != 0 {
		t.Error("want no transcription while the session is busy")
	}
}

func TestVoice_ProtocolErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "", "unused")
	conn := f.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name string
		send func()
	}{
		{"binary without header", func() {
			_ = conn.Write(ctx, websocket.MessageBinary, f32le(0.1))
		}},
		{"malformed header", func() {
			_ = conn.Write(ctx, websocket.MessageText, []byte("{"))
		}},
		{"wrong type", func() {
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`))
		}},
		{"unknown encoding", func() {
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"turn","sample_rate":16000,"encoding":"mulaw"}`))
			_ = conn.Write(ctx, websocket.MessageBinary, []byte{1, 2})
		}},
	}
	for _, tt := range tests {
		tt.send()
		msg := readText(t, ctx, conn)
		if msg.Type != server.TypeError || msg.Stage != server.StageProtocol {
			t.Errorf("%s: want protocol error, got %+v", tt.name, msg)
		}
	}

	sendTurn(t, ctx, conn, f32le(0))
	if msg := readText(t, ctx, conn); msg.Type != server.TypeSilence {
		t.Errorf("want connection usable after protocol errors, got %+v", msg)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	h := server.Handler(server.Routes{Health: health.New(), Metrics: metrics}, m)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/v1/voice", http.StatusNotFound},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s: want %d, got %d", tt.method, tt.path, tt.want, rec.Code)
		}
	}
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := server.New(ln.Addr().String(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	for range 50 {
		resp, err = http.Get("http://" + ln.Addr().String())
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("want 204, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("want clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestVoice_SessionIDRequired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "hello", "reply")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.TrimSuffix(f.url, "?session_id=s1")
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		conn.CloseNow()
		t.Fatal("want dial to fail without session_id")
	}
	if resp == nil || resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("want 422, got %+v", resp)
	}
	if n := len(f.agent.InvokeCalls()); n != 0 {
		t.Errorf("want no agent call, got %d", n)
	}
}
