package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voiceloop/internal/config"
	"github.com/MrWong99/voiceloop/internal/resilience"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
	"github.com/MrWong99/voiceloop/pkg/provider/stt"
	"github.com/MrWong99/voiceloop/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM llm.Provider
	STT stt.Recognizer
	TTS tts.Synthesizer
}

// BuildProviders instantiates every configured provider through reg. An entry
// with fallbacks is wrapped in the matching resilience fallback so callers
// see a single provider.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	p := &Providers{}
	fb := resilience.FallbackConfig{}

	if e := cfg.Providers.LLM; e.Name != "" {
		primary, err := reg.CreateLLM(e)
		if err != nil {
			return nil, err
		}
		if len(e.Fallbacks) == 0 {
			p.LLM = primary
		} else {
			group := resilience.NewLLMFallback(primary, e.Name, fb)
			for _, f := range e.Fallbacks {
				alt, err := reg.CreateLLM(f)
				if err != nil {
					return nil, fmt.Errorf("llm fallback: %w", err)
				}
				group.AddFallback(f.Name, alt)
			}
			p.LLM = group
		}
		slog.Info("provider ready", "kind", "llm", "name", e.Name, "model", e.Model, "fallbacks", len(e.Fallbacks))
	}

	if e := cfg.Providers.STT; e.Name != "" {
		primary, err := reg.CreateSTT(e)
		if err != nil {
			return nil, err
		}
		if len(e.Fallbacks) == 0 {
			p.STT = primary
		} else {
			group := resilience.NewSTTFallback(primary, e.Name, fb)
			for _, f := range e.Fallbacks {
				alt, err := reg.CreateSTT(f)
				if err != nil {
					return nil, fmt.Errorf("stt fallback: %w", err)
				}
				group.AddFallback(f.Name, alt)
			}
			p.STT = group
		}
		slog.Info("provider ready", "kind", "stt", "name", e.Name, "model", e.Model, "fallbacks", len(e.Fallbacks))
	}

	if e := cfg.Providers.TTS; e.Name != "" {
		primary, err := reg.CreateTTS(e)
		if err != nil {
			return nil, err
		}
		if len(e.Fallbacks) == 0 {
			p.TTS = primary
		} else {
			group := resilience.NewTTSFallback(primary, e.Name, fb)
			for _, f := range e.Fallbacks {
				alt, err := reg.CreateTTS(f)
				if err != nil {
					return nil, fmt.Errorf("tts fallback: %w", err)
				}
				group.AddFallback(f.Name, alt)
			}
			p.TTS = group
		}
		slog.Info("provider ready", "kind", "tts", "name", e.Name, "model", e.Model, "fallbacks", len(e.Fallbacks))
	}

	return p, nil
}
