// Package llmagent implements [agent.Agent] on top of an [llm.Provider].
//
// Each call loads the thread's recent history from a [memory.Store], runs a
// bounded tool loop against the model, and appends the caller's messages plus
// everything the model produced back to the store.
package llmagent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voiceloop/internal/agent"
	"github.com/MrWong99/voiceloop/internal/agent/tools"
	"github.com/MrWong99/voiceloop/internal/observe"
	"github.com/MrWong99/voiceloop/pkg/memory"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// DefaultSystemPrompt is the persona used when Config.SystemPrompt is empty.
const DefaultSystemPrompt = `You are Samantha, a helpful AI agent.
Use the available tools for current information when they help.
Keep responses short, natural, and suitable for voice interaction.`

// Defaults applied by [New] to zero Config fields.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 512
	DefaultMaxToolRounds = 4
	DefaultHistoryLimit  = 40
)

// ErrEmptyResponse is returned when the model yields neither text nor tool
// calls.
var ErrEmptyResponse = errors.New("llmagent: empty model response")

// ErrToolRoundsExceeded is returned when the model still asks for tools in
// the final, tool-less round and gives no text to fall back on.
var ErrToolRoundsExceeded = errors.New("llmagent: tool rounds exceeded")

// Tools is the tool surface the agent offers to the model.
// [*tools.Toolbox] satisfies it.
type Tools interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name, args string) (*tools.Result, error)
}

// Config tunes the agent.
type Config struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// MaxToolRounds bounds model calls that may request tools. The round
	// after the last one is offered no tools and any tool calls it still
	// returns are ignored, so a turn makes at most MaxToolRounds+1 calls.
	MaxToolRounds int
	// HistoryLimit is the number of stored messages loaded per call.
	HistoryLimit int
	// ProviderName labels metrics. Default: "llm".
	ProviderName string
}

// Agent is safe for concurrent use.
type Agent struct {
	llm     llm.Provider
	store   memory.Store
	tools   Tools
	cfg     Config
	metrics *observe.Metrics
}

var _ agent.Agent = (*Agent)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithTools offers t to the model. Without it the agent never calls tools.
func WithTools(t Tools) Option {
	return func(a *Agent) { a.tools = t }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New returns an Agent. A nil store keeps history in process memory.
func New(provider llm.Provider, store memory.Store, cfg Config, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("llmagent: provider must not be nil")
	}
	if store == nil {
		store = memory.NewLocal(0)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "llm"
	}
	a := &Agent{llm: provider, store: store, cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// Invoke implements [agent.Agent].
func (a *Agent) Invoke(ctx context.Context, threadID string, msgs []llm.Message) (*agent.Reply, error) {
	ctx, span := observe.StartSpan(ctx, "agent.invoke")
	defer span.End()

	threadID = threadOr(threadID)
	history, err := a.begin(ctx, threadID, msgs)
	if err != nil {
		return nil, err
	}
	convo := append(history, msgs...)

	for round := 0; ; round++ {
		resp, err := a.complete(ctx, a.request(convo, round))
		if err != nil {
			return nil, err
		}
		if len(resp.ToolCalls) == 0 || a.lastRound(round) {
			if err := finalText(resp.Content, resp.ToolCalls); err != nil {
				return nil, err
			}
			convo = append(convo, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			break
		}
		convo = append(convo, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		convo = append(convo, a.runTools(ctx, resp.ToolCalls)...)
	}

	a.commit(ctx, threadID, convo[len(history):])
	return &agent.Reply{Messages: convo, Content: convo[len(convo)-1].Content}, nil
}

// Stream implements [agent.Agent]. Tool rounds run silently; only text of
// the rounds is forwarded.
func (a *Agent) Stream(ctx context.Context, threadID string, msgs []llm.Message) (<-chan agent.Event, error) {
	threadID = threadOr(threadID)
	history, err := a.begin(ctx, threadID, msgs)
	if err != nil {
		return nil, err
	}

	out := make(chan agent.Event)
	go func() {
		defer close(out)
		ctx, span := observe.StartSpan(ctx, "agent.stream")
		defer span.End()

		send := func(ev agent.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		convo := append(history, msgs...)
		for round := 0; ; round++ {
			text, calls, err := a.streamRound(ctx, a.request(convo, round), send)
			if err != nil {
				send(agent.Event{Err: err})
				return
			}
			if len(calls) == 0 || a.lastRound(round) {
				if err := finalText(text, calls); err != nil {
					send(agent.Event{Err: err})
					return
				}
				convo = append(convo, llm.Message{Role: llm.RoleAssistant, Content: text})
				break
			}
			convo = append(convo, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})
			convo = append(convo, a.runTools(ctx, calls)...)
		}
		a.commit(ctx, threadID, convo[len(history):])
	}()
	return out, nil
}

// streamRound runs one streamed completion, forwarding text chunks through
// send, and returns the accumulated text and tool calls.
func (a *Agent) streamRound(ctx context.Context, req llm.CompletionRequest, send func(agent.Event) bool) (string, []llm.ToolCall, error) {
	start := time.Now()
	ch, err := a.llm.StreamCompletion(ctx, req)
	if err != nil {
		a.recordLLM(ctx, start, err)
		return "", nil, fmt.Errorf("llmagent: stream: %w", err)
	}

	var (
		sb    strings.Builder
		calls []llm.ToolCall
	)
	for chunk := range ch {
		if chunk.FinishReason == llm.FinishReasonError {
			err := fmt.Errorf("%w: %s", llm.ErrStream, chunk.Text)
			a.recordLLM(ctx, start, err)
			return "", nil, err
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			if !send(agent.Event{Content: chunk.Text}) {
				break
			}
		}
		calls = append(calls, chunk.ToolCalls...)
	}
	if err := ctx.Err(); err != nil {
		a.recordLLM(ctx, start, err)
		return "", nil, err
	}
	a.recordLLM(ctx, start, nil)
	return sb.String(), calls, nil
}

func threadOr(id string) string {
	if id == "" {
		return agent.DefaultThread
	}
	return id
}

// begin validates the request and loads history.
func (a *Agent) begin(ctx context.Context, threadID string, msgs []llm.Message) ([]llm.Message, error) {
	if !agent.HasUserMessage(msgs) {
		return nil, agent.ErrNoUserMessage
	}
	history, err := a.store.Load(ctx, threadID, a.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("llmagent: load history: %w", err)
	}
	return trimOrphanTools(history), nil
}

// commit appends the messages of this turn. A store failure does not void a
// reply the user is already hearing, so it is only logged.
func (a *Agent) commit(ctx context.Context, threadID string, msgs []llm.Message) {
	if err := a.store.Append(context.WithoutCancel(ctx), threadID, msgs...); err != nil {
		observe.Logger(ctx).Warn("failed to persist conversation", "thread", threadID, "err", err)
	}
}

// lastRound reports whether round is the tool-less closing round.
func (a *Agent) lastRound(round int) bool {
	return round >= a.cfg.MaxToolRounds
}

// finalText checks that a closing answer has text to speak.
func finalText(text string, calls []llm.ToolCall) error {
	switch {
	case text != "":
		return nil
	case len(calls) > 0:
		return ErrToolRoundsExceeded
	default:
		return ErrEmptyResponse
	}
}

// request builds the completion request for the given round.
func (a *Agent) request(convo []llm.Message, round int) llm.CompletionRequest {
	req := llm.CompletionRequest{
		SystemPrompt: a.cfg.SystemPrompt,
		Messages:     slices.Clone(convo),
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	}
	if a.tools != nil && !a.lastRound(round) {
		req.Tools = a.tools.Definitions()
	}
	return req
}

func (a *Agent) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := a.llm.Complete(ctx, req)
	if err == nil && resp == nil {
		err = ErrEmptyResponse
	}
	a.recordLLM(ctx, start, err)
	if err != nil {
		return nil, fmt.Errorf("llmagent: complete: %w", err)
	}
	return resp, nil
}

func (a *Agent) recordLLM(ctx context.Context, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		a.metrics.RecordProviderError(ctx, a.cfg.ProviderName, "llm")
	}
	a.metrics.RecordProviderRequest(ctx, a.cfg.ProviderName, "llm", status)
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", a.cfg.ProviderName)))
}

// runTools executes calls sequentially and returns one tool message each.
// Failures are reported to the model as message content.
func (a *Agent) runTools(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	out := make([]llm.Message, 0, len(calls))
	for _, c := range calls {
		content := a.runTool(ctx, c)
		out = append(out, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: c.ID, Name: c.Name})
	}
	return out
}

func (a *Agent) runTool(ctx context.Context, c llm.ToolCall) string {
	if a.tools == nil {
		return fmt.Sprintf("error: tool %q is not available", c.Name)
	}
	res, err := a.tools.Execute(ctx, c.Name, c.Arguments)
	if err != nil {
		observe.Logger(ctx).Warn("tool call failed", "tool", c.Name, "err", err)
		return "error: " + err.Error()
	}
	if res.IsError {
		return "error: " + res.Content
	}
	return res.Content
}

// trimOrphanTools drops leading tool results whose assistant message fell
// outside the history window. Providers reject a tool message without its
// preceding call.
func trimOrphanTools(history []llm.Message) []llm.Message {
	for len(history) > 0 && history[0].Role == llm.RoleTool {
		history = history[1:]
	}
	return history
}
