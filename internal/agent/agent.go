// Package agent defines the conversational agent the voice pipeline and the
// text relay talk to.
//
// An [Agent] owns its conversation memory: callers pass only the new messages
// of a turn together with a thread ID, and the agent prepends whatever history
// it keeps for that thread. The pipeline never sees or persists history.
//
// Implementations must be safe for concurrent use across threads. Turns of the
// same thread must be serialised by the caller.
package agent

import (
	"context"
	"errors"

	"github.com/MrWong99/voiceloop/pkg/provider/llm"
)

// DefaultThread is the thread used when a caller supplies none.
const DefaultThread = "default_user"

// ErrNoUserMessage is returned when a request carries no user message.
var ErrNoUserMessage = errors.New("agent: no user message")

// Reply is the outcome of one Invoke.
type Reply struct {
	// Messages is the full conversation of the thread after this turn,
	// including history, the caller's messages, tool traffic and the final
	// assistant message.
	Messages []llm.Message

	// Content is the text of the last message, the reply to speak.
	Content string
}

// Event is one partial result of Stream. Exactly one of Content or Err is
// set; an Err event is always the last one on the channel.
type Event struct {
	Content string
	Err     error
}

// Agent produces replies for a conversation thread.
type Agent interface {
	// Invoke runs the agent to completion and returns its reply. It may take
	// several seconds when tools are involved.
	Invoke(ctx context.Context, threadID string, msgs []llm.Message) (*Reply, error)

	// Stream runs the agent and emits the reply text incrementally. The
	// channel is closed when the reply is complete, after an Err event, or
	// when ctx is cancelled. Callers must drain it.
	Stream(ctx context.Context, threadID string, msgs []llm.Message) (<-chan Event, error)
}

// HasUserMessage reports whether msgs contains at least one non-empty user
// message.
func HasUserMessage(msgs []llm.Message) bool {
	for _, m := range msgs {
		if m.Role == llm.RoleUser && m.Content != "" {
			return true
		}
	}
	return false
}
