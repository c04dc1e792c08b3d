package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voiceloop/internal/agent/tools"
	"github.com/MrWong99/voiceloop/pkg/audio"
)

// ValidProviderNames lists the provider names the server registers per kind.
// Unknown names are not rejected, only reported.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"google", "whisper", "openai"},
	"tts": {"cartesia", "openai"},
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, rejecting unknown keys, expands ${VAR}
// references in secret fields, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that other packages have no default for.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = MemoryLocal
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "voiceloop"
	}
}

func expandSecrets(cfg *Config) {
	for _, e := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.STT, &cfg.Providers.TTS} {
		expandEntry(e)
		for i := range e.Fallbacks {
			expandEntry(&e.Fallbacks[i])
		}
	}
	cfg.Memory.Redis.Password = os.ExpandEnv(cfg.Memory.Redis.Password)
	cfg.Memory.Postgres.DSN = os.ExpandEnv(cfg.Memory.Postgres.DSN)
	for i := range cfg.MCP.Servers {
		for k, v := range cfg.MCP.Servers[i].Env {
			cfg.MCP.Servers[i].Env[k] = os.ExpandEnv(v)
		}
	}
}

func expandEntry(e *ProviderEntry) {
	e.APIKey = os.ExpandEnv(e.APIKey)
	e.BaseURL = os.ExpandEnv(e.BaseURL)
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for _, p := range []struct {
		kind string
		e    ProviderEntry
	}{{"llm", cfg.Providers.LLM}, {"stt", cfg.Providers.STT}, {"tts", cfg.Providers.TTS}} {
		kind, e := p.kind, p.e
		if e.Name == "" {
			if len(e.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks requires providers.%s.name", kind, kind))
			}
			continue
		}
		validateProviderName(kind, e.Name)
		for i, fb := range e.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
	}

	if t := cfg.Agent.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Agent.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens must not be negative"))
	}
	if cfg.Agent.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tool_rounds must not be negative"))
	}
	if cfg.Agent.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("agent.history_limit must not be negative"))
	}

	switch b := cfg.Memory.Backend; {
	case b == "":
	case !b.IsValid():
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: local, redis, postgres", b))
	case b == MemoryRedis && cfg.Memory.Redis.Addr == "":
		errs = append(errs, fmt.Errorf("memory.redis.addr is required when memory.backend is redis"))
	case b == MemoryPostgres && cfg.Memory.Postgres.DSN == "":
		errs = append(errs, fmt.Errorf("memory.postgres.dsn is required when memory.backend is postgres"))
	}
	if cfg.Memory.MaxMessages < 0 {
		errs = append(errs, fmt.Errorf("memory.max_messages must not be negative"))
	}
	if cfg.Memory.Redis.TTL < 0 {
		errs = append(errs, fmt.Errorf("memory.redis.ttl must not be negative"))
	}

	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == tools.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == tools.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	switch cfg.Voice.Encoding {
	case "", audio.EncodingF32LE, audio.EncodingS16LE:
	default:
		errs = append(errs, fmt.Errorf("voice.encoding %q is invalid; valid values: %s, %s", cfg.Voice.Encoding, audio.EncodingF32LE, audio.EncodingS16LE))
	}
	if cfg.Voice.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("voice.sample_rate must not be negative"))
	}

	if cfg.Pipeline.STTTimeout < 0 || cfg.Pipeline.LLMTimeout < 0 || cfg.Pipeline.TTSTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline timeouts must not be negative"))
	}

	if ep := cfg.Telemetry.OTLPEndpoint; ep != "" {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("telemetry.otlp_endpoint %q must be an http or https URL", ep))
		}
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; the agent cannot reply")
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
