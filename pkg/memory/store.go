// Package memory stores agent conversation history by thread.
//
// A thread is an ordered list of [llm.Message] values identified by a string
// (the conversation session ID). Stores keep only the most recent messages of
// each thread; older messages are discarded on Append.
//
// Backends:
//
//   - [Local]: in-process map, lost on restart.
//   - memory/redis: one Redis list per thread with a sliding TTL.
//   - memory/postgres: agent_messages table behind a pgx pool.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"

	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// DefaultMaxMessages bounds each thread when a backend is configured without
// an explicit cap.
const DefaultMaxMessages = 200

// ErrEmptyThread is returned when a thread ID is empty.
var ErrEmptyThread = errors.New("memory: empty thread id")

// Store is the conversation history backend.
type Store interface {
	// Load returns the last limit messages of threadID, oldest first. A limit
	// of zero or less returns every stored message. An unknown thread yields
	// an empty slice and no error.
	Load(ctx context.Context, threadID string, limit int) ([]llm.Message, error)

	// Append adds msgs to the end of threadID in order.
	Append(ctx context.Context, threadID string, msgs ...llm.Message) error

	// Reset deletes every message of threadID.
	Reset(ctx context.Context, threadID string) error
}

// Pinger is implemented by stores backed by a remote service. Readiness
// probes call Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// tail returns the last n elements of msgs, or all of them when n <= 0.
func tail(msgs []llm.Message, n int) []llm.Message {
	if n > 0 && len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
