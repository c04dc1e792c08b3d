package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// Local is an in-process [Store]. The zero value is not usable; create one
// with [NewLocal].
type Local struct {
	mu      sync.Mutex
	threads map[string][]llm.Message
	max     int
}

var _ Store = (*Local)(nil)

// NewLocal returns a Local that keeps at most maxMessages per thread.
// maxMessages <= 0 selects [DefaultMaxMessages].
func NewLocal(maxMessages int) *Local {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Local{threads: make(map[string][]llm.Message), max: maxMessages}
}

// Load implements [Store].
func (l *Local) Load(_ context.Context, threadID string, limit int) ([]llm.Message, error) {
	if threadID == "" {
		return nil, ErrEmptyThread
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(tail(l.threads[threadID], limit)), nil
}

// Append implements [Store].
func (l *Local) Append(_ context.Context, threadID string, msgs ...llm.Message) error {
	if threadID == "" {
		return ErrEmptyThread
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	thread := append(l.threads[threadID], msgs...)
	// Copy when trimming so the dropped prefix can be collected.
	if len(thread) > l.max {
		thread = slices.Clone(tail(thread, l.max))
	}
	l.threads[threadID] = thread
	return nil
}

// Reset implements [Store].
func (l *Local) Reset(_ context.Context, threadID string) error {
	if threadID == "" {
		return ErrEmptyThread
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.threads, threadID)
	return nil
}

// Threads returns the number of threads currently held.
func (l *Local) Threads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.threads)
}
