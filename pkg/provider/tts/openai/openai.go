// Package openai provides a TTS Synthesizer backed by the OpenAI speech
// endpoint. Audio is requested as raw 24 kHz 16-bit PCM, so callers must
// segment it with the pcm_s16le encoding.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// SampleRate is the fixed rate of the endpoint's pcm output.
	SampleRate = 24000
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
}

type config struct {
	baseURL string
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// New constructs a Synthesizer.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Synthesizer{client: oai.NewClient(reqOpts...)}, nil
}

// Synthesize requests raw PCM speech for req.Transcript. The only supported
// output is pcm_s16le at 24 kHz; any other requested format is an error.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	if enc := req.Format.Encoding; enc != "" && enc != audio.EncodingS16LE {
		return nil, fmt.Errorf("openai tts: unsupported encoding %q", enc)
	}
	if rate := req.Format.SampleRate; rate != 0 && rate != SampleRate {
		return nil, fmt.Errorf("openai tts: unsupported sample rate %d", rate)
	}

	model := req.ModelID
	if model == "" {
		model = defaultModel
	}
	voice := req.Voice.ID
	if voice == "" {
		voice = defaultVoice
	}

	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Transcript,
		Model:          oai.SpeechModel(model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openai tts: HTTP %d: %s", resp.StatusCode, msg)
	}
	return tts.NewReaderStream(resp.Body, 4096), nil
}
