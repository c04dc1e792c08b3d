// Package config provides the configuration schema, loader, and provider
// registry for the voiceloop server.
package config

import (
	"time"

	"github.com/MrWong99/voiceloop/internal/agent/tools"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MemoryBackend selects where conversation history is kept.
type MemoryBackend string

const (
	MemoryLocal    MemoryBackend = "local"
	MemoryRedis    MemoryBackend = "redis"
	MemoryPostgres MemoryBackend = "postgres"
)

// IsValid reports whether b is a recognised memory backend.
func (b MemoryBackend) IsValid() bool {
	switch b {
	case MemoryLocal, MemoryRedis, MemoryPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Memory    MemoryConfig    `yaml:"memory"`
	MCP       MCPConfig       `yaml:"mcp"`
	Voice     VoiceConfig     `yaml:"voice"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloaded.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins restricts browser origins on the voice socket. Empty
	// accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "cartesia").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. ${VAR} references are
	// expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Fallbacks of a fallback are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AgentConfig tunes the LLM agent. Zero values select the agent's defaults.
type AgentConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	// DefaultThread is the session used when a request names none. Empty
	// makes session_id mandatory on both transports.
	DefaultThread string  `yaml:"default_thread"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	MaxToolRounds int     `yaml:"max_tool_rounds"`
	HistoryLimit  int     `yaml:"history_limit"`
}

// MemoryConfig selects and configures the conversation store.
type MemoryConfig struct {
	// Backend defaults to local.
	Backend MemoryBackend `yaml:"backend"`

	// MaxMessages caps the stored history per thread. Zero keeps the
	// backend's default.
	MaxMessages int `yaml:"max_messages"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the redis memory backend.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// PostgresConfig configures the postgres memory backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// MCPConfig lists the MCP servers whose tools are offered to the agent.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one MCP server.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport tools.Transport   `yaml:"transport"`
	Command   string            `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
}

// VoiceConfig selects the synthesis voice and output format.
type VoiceConfig struct {
	ModelID    string `yaml:"model_id"`
	VoiceID    string `yaml:"voice_id"`
	Container  string `yaml:"container"`
	Encoding   string `yaml:"encoding"`
	SampleRate int    `yaml:"sample_rate"`
}

// PipelineConfig bounds each stage of a turn. Zero means unbounded.
type PipelineConfig struct {
	STTTimeout time.Duration `yaml:"stt_timeout"`
	LLMTimeout time.Duration `yaml:"llm_timeout"`
	TTSTimeout time.Duration `yaml:"tts_timeout"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName defaults to "voiceloop".
	ServiceName string `yaml:"service_name"`

	// OTLPEndpoint is the OTLP/HTTP trace endpoint, e.g.
	// "http://localhost:4318/v1/traces". Empty keeps spans in process.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}
