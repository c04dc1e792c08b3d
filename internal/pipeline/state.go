package pipeline

// State is the position of a turn in its lifecycle.
//
//	Idle → Transcribing → (EarlyExit | Thinking) → Synthesizing → Idle
//
// Failed is entered instead of Idle when the turn ends with a [TurnError].
type State int32

const (
	StateIdle State = iota
	StateTranscribing
	StateEarlyExit
	StateThinking
	StateSynthesizing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateEarlyExit:
		return "early_exit"
	case StateThinking:
		return "thinking"
	case StateSynthesizing:
		return "synthesizing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
