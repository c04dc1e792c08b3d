// Package whisper provides an STT Recognizer backed by a whisper.cpp server.
//
// It posts each utterance as a 16 kHz mono WAV file to the server's
// POST /inference endpoint and returns the recognized text. Utterances whose
// energy is below a silence threshold are rejected locally with
// stt.ErrNoSpeech, saving a round trip.
//
// Usage:
//
//	r, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := r.Recognize(ctx, pcm, 48000, 2)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/stt"
)

const (
	// whisperSampleRate is the only rate whisper-server accepts without
	// ffmpeg conversion.
	whisperSampleRate = 16000

	// defaultRMSThreshold is the RMS energy (in 16-bit PCM units) below which
	// an utterance is treated as silence. 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage = "en"
)

var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en"). When empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) {
		r.language = lang
	}
}

// WithSilenceThreshold overrides the RMS level below which audio is rejected
// as silence. Zero disables the local check.
func WithSilenceThreshold(rms float64) Option {
	return func(r *Recognizer) {
		r.silenceRMS = rms
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) {
		r.httpClient = c
	}
}

// Recognizer implements stt.Recognizer backed by a whisper.cpp HTTP server.
// It holds no per-call state and is safe for concurrent use.
type Recognizer struct {
	serverURL  string
	model      string
	language   string
	silenceRMS float64
	httpClient *http.Client
}

// New creates a Recognizer for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize resamples pcm to 16 kHz, wraps it in WAV and submits it to the
// server. Only 16-bit PCM is supported.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error) {
	if sampleWidth != audio.CanonicalSampleWidth {
		return "", fmt.Errorf("whisper: unsupported sample width %d", sampleWidth)
	}
	if len(pcm) < audio.CanonicalSampleWidth {
		return "", fmt.Errorf("whisper: %w", stt.ErrNoSpeech)
	}
	if r.silenceRMS > 0 && computeRMS(pcm) < r.silenceRMS {
		return "", fmt.Errorf("whisper: %w", stt.ErrNoSpeech)
	}

	wav := audio.EncodeWAV(audio.ResampleMono16(pcm, sampleRate, whisperSampleRate), whisperSampleRate, 1)
	text, err := r.infer(ctx, wav)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("whisper: %w", stt.ErrNoSpeech)
	}
	return text, nil
}

// infer POSTs wav to the /inference endpoint as multipart/form-data.
func (r *Recognizer) infer(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if r.language != "" {
		if err := mw.WriteField("language", r.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if r.model != "" {
		if err := mw.WriteField("model", r.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// computeRMS returns the root-mean-square energy of 16-bit little-endian PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
