// Package mock provides a test double for [agent.Agent].
//
// The mock records every call and returns the configured reply. It is safe
// for concurrent use.
//
// Example:
//
//	a := &mock.Agent{Content: "It is sunny."}
//	reply, err := a.Invoke(ctx, "alice", msgs)
//	if a.InvokeCount() != 1 { ... }
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voiceloop/internal/agent"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

var _ agent.Agent = (*Agent)(nil)

// Call records the arguments of one Invoke or Stream call.
type Call struct {
	ThreadID string
	Messages []llm.Message
}

// Agent is a configurable mock of [agent.Agent].
type Agent struct {
	mu sync.Mutex

	// Content is the reply text returned by Invoke. Stream emits it as one
	// event when Events is empty.
	Content string

	// InvokeErr is returned by Invoke when non-nil.
	InvokeErr error

	// Events are emitted in order by Stream.
	Events []agent.Event

	// StreamErr is returned by Stream when non-nil.
	StreamErr error

	// Block makes Invoke wait for ctx to end and return ctx.Err().
	Block bool

	invokeCalls []Call
	streamCalls []Call
}

// Invoke implements [agent.Agent].
func (a *Agent) Invoke(ctx context.Context, threadID string, msgs []llm.Message) (*agent.Reply, error) {
	a.mu.Lock()
	a.invokeCalls = append(a.invokeCalls, Call{ThreadID: threadID, Messages: slices.Clone(msgs)})
	content, err, block := a.Content, a.InvokeErr, a.Block
	a.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	all := append(slices.Clone(msgs), llm.Message{Role: llm.RoleAssistant, Content: content})
	return &agent.Reply{Messages: all, Content: content}, nil
}

// Stream implements [agent.Agent].
func (a *Agent) Stream(ctx context.Context, threadID string, msgs []llm.Message) (<-chan agent.Event, error) {
	a.mu.Lock()
	a.streamCalls = append(a.streamCalls, Call{ThreadID: threadID, Messages: slices.Clone(msgs)})
	if a.StreamErr != nil {
		err := a.StreamErr
		a.mu.Unlock()
		return nil, err
	}
	events := slices.Clone(a.Events)
	if len(events) == 0 && a.Content != "" {
		events = []agent.Event{{Content: a.Content}}
	}
	a.mu.Unlock()

	ch := make(chan agent.Event, len(events))
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
	}()
	return ch, nil
}

// InvokeCalls returns a copy of the recorded Invoke calls.
func (a *Agent) InvokeCalls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.invokeCalls)
}

// InvokeCount returns the number of Invoke calls.
func (a *Agent) InvokeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.invokeCalls)
}

// StreamCalls returns a copy of the recorded Stream calls.
func (a *Agent) StreamCalls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.streamCalls)
}
