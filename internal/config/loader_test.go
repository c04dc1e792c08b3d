package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voiceloop/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: []string{"server.log_level"},
		},
		{
			name: "fallback without primary",
			yaml: "providers:\n  stt:\n    fallbacks:\n      - name: whisper\n",
			want: []string{"providers.stt.fallbacks requires"},
		},
		{
			name: "unnamed fallback",
			yaml: "providers:\n  tts:\n    name: cartesia\n    fallbacks:\n      - model: x\n",
			want: []string{"providers.tts.fallbacks[0].name"},
		},
		{
			name: "agent ranges",
			yaml: "agent:\n  temperature: 3\n  max_tokens: -1\n  max_tool_rounds: -2\n  history_limit: -3\n",
			want: []string{"agent.temperature", "agent.max_tokens", "agent.max_tool_rounds", "agent.history_limit"},
		},
		{
			name: "unknown memory backend",
			yaml: "memory:\n  backend: sqlite\n",
			want: []string{"memory.backend"},
		},
		{
			name: "redis without addr",
			yaml: "memory:\n  backend: redis\n",
			want: []string{"memory.redis.addr"},
		},
		{
			name: "postgres without dsn",
			yaml: "memory:\n  backend: postgres\n",
			want: []string{"memory.postgres.dsn"},
		},
		{
			name: "mcp servers",
			yaml: `
mcp:
  servers:
    - name: a
      transport: stdio
    - name: a
      transport: streamable-http
    - transport: carrier-pigeon
`,
			want: []string{
				"mcp.servers[0].command",
				"mcp.servers[1].url",
				"duplicate",
				"mcp.servers[2].name",
				"mcp.servers[2].transport",
			},
		},
		{
			name: "voice encoding",
			yaml: "voice:\n  encoding: mp3\n",
			want: []string{"voice.encoding"},
		},
		{
			name: "negative timeout",
			yaml: "pipeline:\n  tts_timeout: -1s\n",
			want: []string{"pipeline timeouts"},
		},
		{
			name: "otlp endpoint without scheme",
			yaml: "telemetry:\n  otlp_endpoint: localhost:4318\n",
			want: []string{"telemetry.otlp_endpoint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("want error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("want error mentioning %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderNameIsAccepted(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: my-inhouse-llm
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Errorf("want unknown provider name accepted, got %v", err)
	}
}

func TestValidate_JoinsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "verbose"},
		Memory: config.MemoryConfig{Backend: config.MemoryPostgres},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if n := len(strings.Split(err.Error(), "\n")); n != 2 {
		t.Errorf("want 2 joined problems, got %d: %v", n, err)
	}
}
