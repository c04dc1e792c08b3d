package llm

import "strings"

// LookupCapabilities returns ModelCapabilities for well-known model names.
// Unknown models get conservative defaults with tool calling enabled.
func LookupCapabilities(model string) ModelCapabilities {
	caps := ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	switch {
	// Open-weight models served by Cerebras, Groq and friends.
	case strings.HasPrefix(lower, "gpt-oss"):
		caps.ContextWindow = 131_072
		caps.MaxOutputTokens = 32_768
	case strings.HasPrefix(lower, "llama-4"), strings.HasPrefix(lower, "llama3.3"), strings.HasPrefix(lower, "llama-3.3"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "qwen"):
		caps.ContextWindow = 131_072
		caps.MaxOutputTokens = 16_384

	case strings.HasPrefix(lower, "gpt-4o"), strings.HasPrefix(lower, "gpt-4.1"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		caps.MaxOutputTokens = 65_536
		caps.SupportsToolCalling = false

	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192

	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	}
	return caps
}
