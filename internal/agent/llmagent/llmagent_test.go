package llmagent_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voiceloop/internal/agent"
	"github.com/MrWong99/voiceloop/internal/agent/llmagent"
	"github.com/MrWong99/voiceloop/internal/agent/tools"
	"github.com/MrWong99/voiceloop/internal/observe"
	memmock "github.com/MrWong99/voiceloop/pkg/memory/mock"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/voiceloop/pkg/provider/llm/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newAgent(t *testing.T, p llm.Provider, store *memmock.Store, cfg llmagent.Config, opts ...llmagent.Option) *llmagent.Agent {
	t.Helper()
	opts = append(opts, llmagent.WithMetrics(testMetrics(t)))
	a, err := llmagent.New(p, store, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// fakeTools records executions and answers every call with "sunny".
type fakeTools struct {
	calls []string
}

func (f *fakeTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "weather", Description: "current weather"}}
}

func (f *fakeTools) Execute(_ context.Context, name, _ string) (*tools.Result, error) {
	f.calls = append(f.calls, name)
	if name != "weather" {
		return nil, tools.ErrToolNotFound
	}
	return &tools.Result{Content: "sunny"}, nil
}

func userMsg(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func TestInvoke_PlainReply(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello there."}}
	store := &memmock.Store{}
	a := newAgent(t, p, store, llmagent.Config{})

	reply, err := a.Invoke(context.Background(), "alice", userMsg("hi"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply.Content != "Hello there." {
		t.Errorf("want reply content, got %q", reply.Content)
	}
	if len(reply.Messages) != 2 {
		t.Errorf("want 2 messages, got %d", len(reply.Messages))
	}

	if n := p.CompleteCallCount(); n != 1 {
		t.Fatalf("want 1 Complete call, got %d", n)
	}
	req := p.CompleteCalls[0].Req
	if req.SystemPrompt != llmagent.DefaultSystemPrompt {
		t.Errorf("want default system prompt, got %q", req.SystemPrompt)
	}
	if req.Temperature != llmagent.DefaultTemperature || req.MaxTokens != llmagent.DefaultMaxTokens {
		t.Errorf("want defaults 0.7/512, got %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Tools) != 0 {
		t.Errorf("want no tools without WithTools, got %d", len(req.Tools))
	}

	stored := store.Messages("alice")
	if len(stored) != 2 || stored[1].Content != "Hello there." {
		t.Errorf("want user+assistant persisted, got %+v", stored)
	}
}

func TestInvoke_UsesHistory(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Your name is Ada."}}
	store := &memmock.Store{}
	store.Seed("alice",
		llm.Message{Role: llm.RoleUser, Content: "my name is Ada"},
		llm.Message{Role: llm.RoleAssistant, Content: "Nice to meet you."},
	)
	a := newAgent(t, p, store, llmagent.Config{HistoryLimit: 10})

	if _, err := a.Invoke(context.Background(), "alice", userMsg("what is my name?")); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	req := p.CompleteCalls[0].Req
	if len(req.Messages) != 3 || req.Messages[0].Content != "my name is Ada" {
		t.Errorf("want history then new message, got %+v", req.Messages)
	}
	if calls := store.Calls(); calls[0].Method != "Load" || calls[0].Limit != 10 {
		t.Errorf("want Load with limit 10, got %+v", calls[0])
	}
	if n := len(store.Messages("alice")); n != 4 {
		t.Errorf("want 4 stored messages, got %d", n)
	}
}

func TestInvoke_ToolLoop(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "weather", Arguments: `{"city":"Berlin"}`}}},
			{Content: "It is sunny in Berlin."},
		},
	}
	ft := &fakeTools{}
	store := &memmock.Store{}
	a := newAgent(t, p, store, llmagent.Config{}, llmagent.WithTools(ft))

	reply, err := a.Invoke(context.Background(), "bob", userMsg("weather in Berlin?"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply.Content != "It is sunny in Berlin." {
		t.Errorf("want final content, got %q", reply.Content)
	}
	if len(ft.calls) != 1 || ft.calls[0] != "weather" {
		t.Errorf("want one weather call, got %v", ft.calls)
	}
	if n := p.CompleteCallCount(); n != 2 {
		t.Fatalf("want 2 Complete calls, got %d", n)
	}
	second := p.CompleteCalls[1].Req.Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" || last.Content != "sunny" {
		t.Errorf("want tool result as last message, got %+v", last)
	}
	if len(p.CompleteCalls[0].Req.Tools) != 1 {
		t.Errorf("want tools offered in the first round")
	}
	// user, assistant(tool call), tool, assistant
	if n := len(store.Messages("bob")); n != 4 {
		t.Errorf("want 4 stored messages, got %d", n)
	}
}

func TestInvoke_ToolRoundsBounded(t *testing.T) {
	t.Parallel()
	loop := &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "c", Name: "weather"}}}
	p := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{loop, loop, {Content: "done"}},
	}
	a := newAgent(t, p, &memmock.Store{}, llmagent.Config{MaxToolRounds: 2}, llmagent.WithTools(&fakeTools{}))

	reply, err := a.Invoke(context.Background(), "t", userMsg("go"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply.Content != "done" {
		t.Errorf("want done, got %q", reply.Content)
	}
	if got := len(p.CompleteCalls[2].Req.Tools); got != 0 {
		t.Errorf("want no tools after the round limit, got %d", got)
	}
}

func TestInvoke_ToolCallsNeverStop(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "c", Name: "weather"}}},
	}
	ft := &fakeTools{}
	a := newAgent(t, p, &memmock.Store{}, llmagent.Config{MaxToolRounds: 2}, llmagent.WithTools(ft))

	_, err := a.Invoke(context.Background(), "t", userMsg("go"))
	if !errors.Is(err, llmagent.ErrToolRoundsExceeded) {
		t.Fatalf("want ErrToolRoundsExceeded, got %v", err)
	}
	if n := p.CompleteCallCount(); n != 3 {
		t.Errorf("want 3 model calls, got %d", n)
	}
	if len(ft.calls) != 2 {
		t.Errorf("want 2 tool executions, got %v", ft.calls)
	}
}

func TestInvoke_LastRoundToolCallsIgnored(t *testing.T) {
	t.Parallel()
	loop := &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "c", Name: "weather"}}}
	final := &llm.CompletionResponse{
		Content:   "It is sunny.",
		ToolCalls: []llm.ToolCall{{ID: "d", Name: "weather"}},
	}
	p := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{loop},
		CompleteResponse:  final,
	}
	ft := &fakeTools{}
	a := newAgent(t, p, &memmock.Store{}, llmagent.Config{MaxToolRounds: 1}, llmagent.WithTools(ft))

	reply, err := a.Invoke(context.Background(), "t", userMsg("go"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply.Content != "It is sunny." {
		t.Errorf("want last round text, got %q", reply.Content)
	}
	if last := reply.Messages[len(reply.Messages)-1]; len(last.ToolCalls) != 0 {
		t.Errorf("want closing message without tool calls, got %+v", last.ToolCalls)
	}
	if len(ft.calls) != 1 {
		t.Errorf("want 1 tool execution, got %v", ft.calls)
	}
}

func TestInvoke_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("upstream 500")

	tests := []struct {
		name  string
		p     *llmmock.Provider
		store *memmock.Store
		msgs  []llm.Message
		want  error
	}{
		{
			name: "no user message",
			p:    &llmmock.Provider{},
			msgs: []llm.Message{{Role: llm.RoleSystem, Content: "x"}},
			want: agent.ErrNoUserMessage,
		},
		{
			name: "provider error",
			p:    &llmmock.Provider{CompleteErr: boom},
			msgs: userMsg("hi"),
			want: boom,
		},
		{
			name: "empty response",
			p:    &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{}},
			msgs: userMsg("hi"),
			want: llmagent.ErrEmptyResponse,
		},
		{
			name:  "history load failure",
			p:     &llmmock.Provider{},
			store: &memmock.Store{LoadErr: boom},
			msgs:  userMsg("hi"),
			want:  boom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := tt.store
			if store == nil {
				store = &memmock.Store{}
			}
			a := newAgent(t, tt.p, store, llmagent.Config{})
			_, err := a.Invoke(context.Background(), "x", tt.msgs)
			if !errors.Is(err, tt.want) {
				t.Errorf("want %v, got %v", tt.want, err)
			}
			if store.CallCount("Append") != 0 {
				t.Error("want nothing persisted on failure")
			}
		})
	}
}

func TestInvoke_DefaultThread(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	store := &memmock.Store{}
	a := newAgent(t, p, store, llmagent.Config{})

	if _, err := a.Invoke(context.Background(), "", userMsg("hi")); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if n := len(store.Messages(agent.DefaultThread)); n != 2 {
		t.Errorf("want messages under %q, got %d", agent.DefaultThread, n)
	}
}

func TestInvoke_PersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	a := newAgent(t, p, &memmock.Store{AppendErr: errors.New("disk full")}, llmagent.Config{})

	reply, err := a.Invoke(context.Background(), "x", userMsg("hi"))
	if err != nil {
		t.Fatalf("want reply despite store failure, got %v", err)
	}
	if reply.Content != "ok" {
		t.Errorf("want ok, got %q", reply.Content)
	}
}

func drain(ch <-chan agent.Event) (text string, err error) {
	for ev := range ch {
		if ev.Err != nil {
			err = ev.Err
			continue
		}
		text += ev.Content
	}
	return text, err
}

func TestStream_Chunks(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Hel"}, {Text: "lo"}, {FinishReason: "stop"}},
	}
	store := &memmock.Store{}
	a := newAgent(t, p, store, llmagent.Config{})

	ch, err := a.Stream(context.Background(), "s", userMsg("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := drain(ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "Hello" {
		t.Errorf("want Hello, got %q", text)
	}
	stored := store.Messages("s")
	if len(stored) != 2 || stored[1].Content != "Hello" {
		t.Errorf("want assembled reply persisted, got %+v", stored)
	}
}

func TestStream_ToolRound(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamRounds: [][]llm.Chunk{
			{{FinishReason: "tool_calls", ToolCalls: []llm.ToolCall{{ID: "1", Name: "weather"}}}},
			{{Text: "Sunny."}, {FinishReason: "stop"}},
		},
	}
	ft := &fakeTools{}
	a := newAgent(t, p, &memmock.Store{}, llmagent.Config{}, llmagent.WithTools(ft))

	ch, err := a.Stream(context.Background(), "s", userMsg("weather?"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := drain(ch)
	if err != nil || text != "Sunny." {
		t.Errorf("want Sunny., got %q (err %v)", text, err)
	}
	if len(ft.calls) != 1 {
		t.Errorf("want one tool call, got %v", ft.calls)
	}
	if n := p.StreamCallCount(); n != 2 {
		t.Errorf("want 2 stream rounds, got %d", n)
	}
}

func TestStream_ToolCallsNeverStop(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{FinishReason: "tool_calls", ToolCalls: []llm.ToolCall{{ID: "1", Name: "weather"}}}},
	}
	a := newAgent(t, p, &memmock.Store{}, llmagent.Config{MaxToolRounds: 2}, llmagent.WithTools(&fakeTools{}))

	ch, err := a.Stream(context.Background(), "s", userMsg("weather?"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drain(ch); !errors.Is(err, llmagent.ErrToolRoundsExceeded) {
		t.Errorf("want ErrToolRoundsExceeded, got %v", err)
	}
	if n := p.StreamCallCount(); n != 3 {
		t.Errorf("want 3 stream rounds, got %d", n)
	}
}

func TestStream_MidStreamError(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "partial"}, {FinishReason: llm.FinishReasonError, Text: "connection reset"}},
	}
	store := &memmock.Store{}
	a := newAgent(t, p, store, llmagent.Config{})

	ch, err := a.Stream(context.Background(), "s", userMsg("hi"))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := drain(ch)
	if !errors.Is(err, llm.ErrStream) {
		t.Errorf("want ErrStream event, got %v", err)
	}
	if text != "partial" {
		t.Errorf("want partial text forwarded, got %q", text)
	}
	if store.CallCount("Append") != 0 {
		t.Error("want nothing persisted after a failed stream")
	}
}

func TestStream_Validation(t *testing.T) {
	t.Parallel()
	a := newAgent(t, &llmmock.Provider{}, &memmock.Store{}, llmagent.Config{})

	if _, err := a.Stream(context.Background(), "s", nil); !errors.Is(err, agent.ErrNoUserMessage) {
		t.Errorf("want ErrNoUserMessage, got %v", err)
	}
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()
	if _, err := llmagent.New(nil, nil, llmagent.Config{}); err == nil {
		t.Error("want error for nil provider")
	}
}
