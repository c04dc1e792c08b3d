package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voiceloop/pkg/provider/stt"
	"github.com/MrWong99/voiceloop/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that answers POST /inference with
// responseText and records the uploaded WAV header's sample rate.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, gotRate *atomic.Uint32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		wav, _ := io.ReadAll(f)
		if len(wav) >= 28 && gotRate != nil {
			gotRate.Store(binary.LittleEndian.Uint32(wav[24:28]))
		}
		if r.FormValue("language") != "en" {
			http.Error(w, "missing language", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a 440 Hz sine wave well above the silence threshold.
func makeSpeechPCM(samples, rate int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestRecognize_ReturnsTrimmedText(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var rate atomic.Uint32
	srv := newMockServer(t, "  hello there \n", &calls, &rate)
	r, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	text, err := r.Recognize(context.Background(), makeSpeechPCM(4800, 48000), 48000, 2)
	if err != nil {
		t.Fatalf("Recognize: unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("want %q, got %q", "hello there", text)
	}
	if calls.Load() != 1 {
		t.Errorf("want 1 server call, got %d", calls.Load())
	}
	if rate.Load() != 16000 {
		t.Errorf("want WAV resampled to 16000 Hz, got %d", rate.Load())
	}
}

func TestRecognize_SilenceSkipsServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "ghost", &calls, nil)
	r, _ := whisper.New(srv.URL)

	_, err := r.Recognize(context.Background(), make([]byte, 3200), 16000, 2)
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("want ErrNoSpeech, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("want no server call for silence, got %d", calls.Load())
	}
}

func TestRecognize_EmptyTextIsNoSpeech(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "   ", &calls, nil)
	r, _ := whisper.New(srv.URL)

	_, err := r.Recognize(context.Background(), makeSpeechPCM(1600, 16000), 16000, 2)
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("want ErrNoSpeech, got %v", err)
	}
}

func TestRecognize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	r, _ := whisper.New(srv.URL)

	_, err := r.Recognize(context.Background(), makeSpeechPCM(1600, 16000), 16000, 2)
	if err == nil {
		t.Fatal("want error for HTTP 500, got nil")
	}
	if errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("server failure must not be reported as ErrNoSpeech: %v", err)
	}
}

func TestRecognize_UnsupportedSampleWidth(t *testing.T) {
	t.Parallel()

	r, _ := whisper.New("http://127.0.0.1:1")
	if _, err := r.Recognize(context.Background(), make([]byte, 8), 16000, 4); err == nil {
		t.Fatal("want error for 32-bit input, got nil")
	}
}

func TestRecognize_CancelledContext(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, "hi", &calls, nil)
	r, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Recognize(ctx, makeSpeechPCM(1600, 16000), 16000, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
