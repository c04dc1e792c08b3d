// Command voiceloop is the main entry point for the voiceloop turn server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"google.golang.org/api/option"

	"github.com/MrWong99/voiceloop/internal/app"
	"github.com/MrWong99/voiceloop/internal/config"
	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
	"github.com/MrWong99/voiceloop/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voiceloop/pkg/provider/llm/openai"
	"github.com/MrWong99/voiceloop/pkg/provider/stt"
	"github.com/MrWong99/voiceloop/pkg/provider/stt/google"
	oaistt "github.com/MrWong99/voiceloop/pkg/provider/stt/openai"
	"github.com/MrWong99/voiceloop/pkg/provider/stt/whisper"
	"github.com/MrWong99/voiceloop/pkg/provider/tts"
	"github.com/MrWong99/voiceloop/pkg/provider/tts/cartesia"
	oaitts "github.com/MrWong99/voiceloop/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceloop: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceloop: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voiceloop starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithConfigReload(*configPath, level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders share the same wiring: optional API key and base URL.
var anyllmProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
}

// registerBuiltinProviders wires every built-in provider factory into reg.
// ctx bounds client construction for providers that dial on creation.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to any OpenAI-compatible endpoint (Cerebras, vLLM, ...).
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var clientOpts []option.ClientOption
		if entry.APIKey != "" {
			clientOpts = append(clientOpts, option.WithAPIKey(entry.APIKey))
		}
		if creds := optString(entry.Options, "credentials_file"); creds != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(creds))
		}
		if entry.BaseURL != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(entry.BaseURL))
		}
		var opts []google.Option
		if entry.Model != "" {
			opts = append(opts, google.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, google.WithLanguage(lang))
		}
		return google.New(ctx, clientOpts, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("cartesia", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []cartesia.Option
		if entry.BaseURL != "" {
			opts = append(opts, cartesia.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, cartesia.WithLanguage(lang))
		}
		return cartesia.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voiceloop startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Voice.ModelID)
	fmt.Printf("║  Memory          : %-19s ║\n", cfg.Memory.Backend)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map. It returns
// "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
