// Package cartesia provides a TTS Synthesizer backed by Cartesia's
// POST /tts/bytes endpoint.
//
// The endpoint streams headerless audio in the HTTP response body; the
// Synthesizer hands the body to the caller fragment by fragment as chunks
// arrive on the wire, without buffering the whole utterance.
package cartesia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.cartesia.ai"
	apiVersion     = "2025-04-16"

	// DefaultModel is the Cartesia model used when a request names none.
	DefaultModel = "sonic-3"

	// DefaultVoiceID is Cartesia's stock voice used when none is configured.
	DefaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

	// readBufferSize bounds one fragment handed to the caller.
	readBufferSize = 4096
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client. The client must not set a
// total Timeout shorter than the longest expected utterance, because the body
// is read incrementally.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) {
		s.httpClient = c
	}
}

// WithLanguage sets the language code sent with every request.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) {
		s.language = lang
	}
}

// Synthesizer implements tts.Synthesizer. The underlying http.Client keeps
// connections alive across turns and is safe for concurrent use.
type Synthesizer struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
}

// New creates a Synthesizer authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type ttsRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
}

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Synthesize posts req and returns the streaming response body. Empty
// fields fall back to sonic-3, the stock voice, and raw pcm_f32le at 24 kHz.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	body, err := json.Marshal(s.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("cartesia: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cartesia: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Cartesia-Version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cartesia: request: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return tts.NewSliceStream(nil, nil), nil
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("cartesia: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return tts.NewReaderStream(resp.Body, readBufferSize), nil
}

func (s *Synthesizer) buildRequest(req tts.Request) ttsRequest {
	out := ttsRequest{
		ModelID:    req.ModelID,
		Transcript: req.Transcript,
		Voice:      voiceSpec{Mode: req.Voice.Mode, ID: req.Voice.ID},
		OutputFormat: outputFormat{
			Container:  req.Format.Container,
			Encoding:   req.Format.Encoding,
			SampleRate: req.Format.SampleRate,
		},
		Language: s.language,
	}
	if out.ModelID == "" {
		out.ModelID = DefaultModel
	}
	if out.Voice.Mode == "" {
		out.Voice.Mode = "id"
	}
	if out.Voice.ID == "" {
		out.Voice.ID = DefaultVoiceID
	}
	if out.OutputFormat.Container == "" {
		out.OutputFormat.Container = "raw"
	}
	if out.OutputFormat.Encoding == "" {
		out.OutputFormat.Encoding = audio.EncodingF32LE
	}
	if out.OutputFormat.SampleRate == 0 {
		out.OutputFormat.SampleRate = audio.DefaultOutputSampleRate
	}
	return out
}
