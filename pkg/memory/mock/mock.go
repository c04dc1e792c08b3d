// Package mock provides a test double for [memory.Store].
//
// The mock keeps threads in memory, records every call, and returns the
// configured error for a method when one is set. It is safe for concurrent use.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voiceloop/pkg/memory"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

var _ memory.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method   string
	ThreadID string
	Limit    int
	Messages []llm.Message
}

// Store is a configurable test double for [memory.Store].
type Store struct {
	mu      sync.Mutex
	calls   []Call
	threads map[string][]llm.Message

	// LoadErr is returned by Load when non-nil.
	LoadErr error
	// AppendErr is returned by Append when non-nil. Nothing is stored.
	AppendErr error
	// ResetErr is returned by Reset when non-nil.
	ResetErr error
}

// Seed stores msgs for threadID without recording a call.
func (s *Store) Seed(threadID string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threads == nil {
		s.threads = make(map[string][]llm.Message)
	}
	s.threads[threadID] = append(s.threads[threadID], msgs...)
}

// Load implements [memory.Store].
func (s *Store) Load(_ context.Context, threadID string, limit int) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Load", ThreadID: threadID, Limit: limit})
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	msgs := s.threads[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

// Append implements [memory.Store].
func (s *Store) Append(_ context.Context, threadID string, msgs ...llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Append", ThreadID: threadID, Messages: slices.Clone(msgs)})
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if s.threads == nil {
		s.threads = make(map[string][]llm.Message)
	}
	s.threads[threadID] = append(s.threads[threadID], msgs...)
	return nil
}

// Reset implements [memory.Store].
func (s *Store) Reset(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Reset", ThreadID: threadID})
	if s.ResetErr != nil {
		return s.ResetErr
	}
	delete(s.threads, threadID)
	return nil
}

// Messages returns a copy of the stored messages of threadID.
func (s *Store) Messages(threadID string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.threads[threadID])
}

// Calls returns a copy of all recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
