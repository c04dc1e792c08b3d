// Package openai provides an STT Recognizer backed by the OpenAI audio
// transcription endpoint (or any OpenAI-compatible server).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/stt"
)

const defaultModel = "whisper-1"

var _ stt.Recognizer = (*Recognizer)(nil)

// Recognizer implements stt.Recognizer using the OpenAI API.
type Recognizer struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets an ISO-639-1 language hint (e.g., "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Recognizer. model defaults to "whisper-1".
func New(apiKey, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Recognizer{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Recognize uploads pcm as a WAV file and returns the transcription text.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error) {
	if sampleWidth != audio.CanonicalSampleWidth {
		return "", fmt.Errorf("openai stt: unsupported sample width %d", sampleWidth)
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("openai stt: %w", stt.ErrNoSpeech)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.EncodeWAV(pcm, sampleRate, 1)), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(r.model),
	}
	if r.language != "" {
		params.Language = oai.String(r.language)
	}

	res, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("openai stt: %w", stt.ErrNoSpeech)
	}
	return text, nil
}
