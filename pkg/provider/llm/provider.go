// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Cerebras and other
// OpenAI-compatible endpoints, Anthropic, Ollama, ...) and exposes a uniform
// interface for the agent to perform completions and inspect model
// capabilities without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
)

// FinishReasonError marks a Chunk that carries a mid-stream failure in Text.
const FinishReasonError = "error"

// ErrStream is wrapped by Collect when a stream ends with an error chunk.
var ErrStream = errors.New("llm: stream failed")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Tools is the set of function/tool definitions offered to the model.
	// Callers should check Capabilities().SupportsToolCalling first.
	Tools []ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction injected before the conversation
	// history as a "system"-role message.
	SystemPrompt string
}

// Chunk is a single token or fragment emitted by a streaming completion.
// A single chunk may carry text, a finish signal, tool calls, or any
// combination thereof.
type Chunk struct {
	// Text is the incremental text content of this chunk. When FinishReason
	// is FinishReasonError it holds the error message instead.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls",
	// or FinishReasonError.
	FinishReason string

	// ToolCalls holds the fully accumulated tool invocations. Providers emit
	// them once, on the final chunk.
	ToolCalls []ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The channel is closed when generation
	// finishes or when ctx is cancelled; callers must drain it.
	//
	// Errors after the channel is opened are surfaced as a Chunk with
	// FinishReason FinishReasonError. The returned channel is never nil when
	// error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}

// Collect drains a chunk channel into a CompletionResponse. It returns an
// error wrapping ErrStream if the stream reports a failure, or ctx.Err() if
// the context ends first.
func Collect(ctx context.Context, ch <-chan Chunk) (*CompletionResponse, error) {
	var (
		sb   strings.Builder
		resp CompletionResponse
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-ch:
			if !ok {
				resp.Content = sb.String()
				return &resp, nil
			}
			if c.FinishReason == FinishReasonError {
				return nil, errors.Join(ErrStream, errors.New(c.Text))
			}
			sb.WriteString(c.Text)
			if len(c.ToolCalls) > 0 {
				resp.ToolCalls = append(resp.ToolCalls, c.ToolCalls...)
			}
		}
	}
}

// ToolCallAccumulator merges streamed tool-call fragments keyed by their
// index in the provider's delta.
type ToolCallAccumulator struct {
	calls map[int]*ToolCall
}

// Add merges one fragment.
func (a *ToolCallAccumulator) Add(index int, id, name, args string) {
	if a.calls == nil {
		a.calls = make(map[int]*ToolCall)
	}
	tc, ok := a.calls[index]
	if !ok {
		tc = &ToolCall{}
		a.calls[index] = tc
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += args
}

// Len returns the number of distinct tool calls seen.
func (a *ToolCallAccumulator) Len() int { return len(a.calls) }

// Calls returns the accumulated tool calls ordered by index.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	out := make([]ToolCall, 0, len(a.calls))
	for _, i := range slices.Sorted(maps.Keys(a.calls)) {
		out = append(out, *a.calls[i])
	}
	return out
}
