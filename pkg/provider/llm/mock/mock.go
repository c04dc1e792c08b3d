// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the agent sends correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. All fields are safe to set before calling any method; mutating them
// during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponses: []*llm.CompletionResponse{
//	        {ToolCalls: []llm.ToolCall{{ID: "1", Name: "weather"}}},
//	        {Content: "It is sunny."},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// Call records a single invocation of StreamCompletion or Complete.
type Call struct {
	// Ctx is the context passed to the method.
	Ctx context.Context
	// Req is the CompletionRequest passed to the method.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamRounds holds one chunk sequence per StreamCompletion call, consumed
	// in order. Once exhausted, StreamChunks is used for every further call.
	StreamRounds [][]llm.Chunk

	// StreamChunks is the default chunk sequence emitted by StreamCompletion.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion instead
	// of starting a channel.
	StreamErr error

	// CompleteResponses are returned by Complete in order. Once exhausted,
	// CompleteResponse is returned for every further call.
	CompleteResponses []*llm.CompletionResponse

	// CompleteResponse is the default Complete result. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []Call

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []Call
}

// StreamCompletion records the call and returns a channel emitting the next
// round of chunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: cloneRequest(req)})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	src := p.StreamChunks
	if len(p.StreamRounds) > 0 {
		src, p.StreamRounds = p.StreamRounds[0], p.StreamRounds[1:]
	}
	chunks := make([]llm.Chunk, len(src))
	copy(chunks, src)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the next queued response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: cloneRequest(req)})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.CompleteResponses) > 0 {
		resp := p.CompleteResponses[0]
		p.CompleteResponses = p.CompleteResponses[1:]
		return resp, nil
	}
	return p.CompleteResponse, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CompleteCallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// StreamCallCount returns the number of StreamCompletion calls. Thread-safe.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}

// cloneRequest copies the message slice so later appends by the caller do
// not alter the recorded history.
func cloneRequest(req llm.CompletionRequest) llm.CompletionRequest {
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	return req
}

var _ llm.Provider = (*Provider)(nil)
