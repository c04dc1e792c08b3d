// Package google provides an STT Recognizer backed by Google Cloud
// Speech-to-Text (v1 synchronous Recognize).
//
// Authentication uses Application Default Credentials unless a credentials
// file or API key is supplied.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/MrWong99/voiceloop/pkg/audio"
	"github.com/MrWong99/voiceloop/pkg/provider/stt"
)

const defaultLanguage = "en-US"

var _ stt.Recognizer = (*Recognizer)(nil)

// Client is the subset of *speech.Client used by Recognizer.
type Client interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the BCP-47 language code. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) {
		r.language = lang
	}
}

// WithModel selects a recognition model such as "latest_short".
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithPunctuation toggles automatic punctuation. Enabled by default.
func WithPunctuation(enabled bool) Option {
	return func(r *Recognizer) {
		r.punctuation = enabled
	}
}

// Recognizer implements stt.Recognizer using Cloud Speech-to-Text. The
// underlying gRPC client is safe for concurrent use.
type Recognizer struct {
	client      Client
	language    string
	model       string
	punctuation bool
}

// New dials Cloud Speech-to-Text. clientOpts are passed to speech.NewClient,
// e.g. option.WithCredentialsFile.
func New(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Recognizer, error) {
	c, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google stt: create speech client: %w", err)
	}
	return NewWithClient(c, opts...), nil
}

// NewWithClient wraps an existing client. Mostly useful for tests.
func NewWithClient(c Client, opts ...Option) *Recognizer {
	r := &Recognizer{
		client:      c,
		language:    defaultLanguage,
		punctuation: true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recognize submits pcm as LINEAR16 audio and returns the top alternative of
// every result, joined by spaces.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, sampleWidth int) (string, error) {
	if sampleWidth != audio.CanonicalSampleWidth {
		return "", fmt.Errorf("google stt: unsupported sample width %d", sampleWidth)
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("google stt: %w", stt.ErrNoSpeech)
	}

	resp, err := r.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			AudioChannelCount:          1,
			LanguageCode:               r.language,
			Model:                      r.model,
			EnableAutomaticPunctuation: r.punctuation,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google stt: recognize: %w", err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("google stt: %w", stt.ErrNoSpeech)
	}
	return strings.Join(parts, " "), nil
}

// Close releases the gRPC connection.
func (r *Recognizer) Close() error {
	if r.client == nil {
		return errors.New("google stt: recognizer not initialised")
	}
	return r.client.Close()
}
