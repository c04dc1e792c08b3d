package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/voiceloop/pkg/memory"
	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// MemoryGuard wraps a [memory.Store] and makes reads and writes non-fatal.
// When the backend fails, Load returns an empty history and Append drops the
// messages, both with a warning, so the assistant keeps answering without
// context while the database or cache is unavailable. IsDegraded reports
// whether the most recent operation failed.
//
// Reset is passed through unchanged: a caller asking to forget a thread must
// learn that it did not happen.
//
// All methods are safe for concurrent use.
type MemoryGuard struct {
	store    memory.Store
	degraded atomic.Bool
}

var _ memory.Store = (*MemoryGuard)(nil)

// NewMemoryGuard creates a new [MemoryGuard] wrapping store.
func NewMemoryGuard(store memory.Store) *MemoryGuard {
	return &MemoryGuard{store: store}
}

// Load implements [memory.Store].
func (mg *MemoryGuard) Load(ctx context.Context, threadID string, limit int) ([]llm.Message, error) {
	msgs, err := mg.store.Load(ctx, threadID, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		mg.degraded.Store(true)
		slog.Warn("memory guard: Load failed, continuing without history",
			"thread", threadID,
			"err", err,
		)
		return []llm.Message{}, nil
	}
	mg.degraded.Store(false)
	return msgs, nil
}

// Append implements [memory.Store].
func (mg *MemoryGuard) Append(ctx context.Context, threadID string, msgs ...llm.Message) error {
	if err := mg.store.Append(ctx, threadID, msgs...); err != nil {
		mg.degraded.Store(true)
		slog.Warn("memory guard: Append failed, dropping messages",
			"thread", threadID,
			"messages", len(msgs),
			"err", err,
		)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// Reset implements [memory.Store].
func (mg *MemoryGuard) Reset(ctx context.Context, threadID string) error {
	return mg.store.Reset(ctx, threadID)
}

// Ping checks the wrapped store when it supports it. It does not change the
// degraded flag.
func (mg *MemoryGuard) Ping(ctx context.Context) error {
	if p, ok := mg.store.(memory.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// IsDegraded reports whether the most recent Load or Append failed.
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}
