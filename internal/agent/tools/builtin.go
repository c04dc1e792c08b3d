package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

const builtinServer = "builtin"

// Builtin is a tool implemented as an in-process Go function. It skips the
// MCP round trip but is otherwise listed and measured like a remote tool.
type Builtin struct {
	Definition llm.ToolDefinition
	// Handler receives the JSON arguments object. A returned error becomes a
	// Result with IsError set.
	Handler func(ctx context.Context, args string) (string, error)
}

// RegisterBuiltin adds or replaces an in-process tool.
func (tb *Toolbox) RegisterBuiltin(b Builtin) error {
	if b.Definition.Name == "" {
		return errors.New("tools: builtin tool must have a non-empty name")
	}
	if b.Handler == nil {
		return fmt.Errorf("tools: builtin tool %q must have a handler", b.Definition.Name)
	}
	if b.Definition.Parameters == nil {
		b.Definition.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tools[b.Definition.Name] = entry{def: b.Definition, server: builtinServer, builtin: b.Handler}
	return nil
}

// CurrentTime is a builtin that reports the wall clock, so the assistant can
// answer "what time is it" without an external server.
func CurrentTime(now func() time.Time) Builtin {
	if now == nil {
		now = time.Now
	}
	return Builtin{
		Definition: llm.ToolDefinition{
			Name:        "current_time",
			Description: "Returns the current date and time in RFC 3339 format.",
		},
		Handler: func(context.Context, string) (string, error) {
			return now().Format(time.RFC3339), nil
		},
	}
}
