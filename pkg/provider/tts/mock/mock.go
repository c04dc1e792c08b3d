// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled byte fragments to consumers and to verify
// which requests were made.
//
// Example:
//
//	s := &mock.Synthesizer{Fragments: [][]byte{{0, 0, 0, 0, 0, 0}}}
//	stream, _ := s.Synthesize(ctx, tts.Request{Transcript: "hi"})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voiceloop/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Fragments is the sequence of byte fragments every stream yields.
	Fragments [][]byte

	// StreamErr, if non-nil, is reported by Stream.Err after all Fragments
	// have been yielded, simulating a mid-stream failure.
	StreamErr error

	// SynthesizeErr, if non-nil, is returned from Synthesize instead of a
	// stream.
	SynthesizeErr error

	// --- Call records ---

	// Calls records every Synthesize request in order.
	Calls []tts.Request

	// CloseCount is the number of streams that have been closed.
	CloseCount int
}

// Synthesize records the call and returns a stream over Fragments.
func (s *Synthesizer) Synthesize(_ context.Context, req tts.Request) (tts.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, req)
	if s.SynthesizeErr != nil {
		return nil, s.SynthesizeErr
	}
	return &countingStream{Stream: tts.NewSliceStream(s.Fragments, s.StreamErr), owner: s}, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Requests returns a copy of the recorded requests. Thread-safe.
func (s *Synthesizer) Requests() []tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Calls)
}

// Closed returns the number of closed streams. Thread-safe.
func (s *Synthesizer) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
	s.CloseCount = 0
}

type countingStream struct {
	tts.Stream
	owner *Synthesizer
	once  sync.Once
}

func (c *countingStream) Close() error {
	c.once.Do(func() {
		c.owner.mu.Lock()
		c.owner.CloseCount++
		c.owner.mu.Unlock()
	})
	return c.Stream.Close()
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
