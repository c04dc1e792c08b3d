package pipeline

import (
	"errors"
	"fmt"
)

// ErrTurnConsumed is yielded when the frames of a turn are ranged over a
// second time.
var ErrTurnConsumed = errors.New("pipeline: turn already consumed")

var errNoReply = errors.New("pipeline: agent returned no reply")

// Stage names the part of a turn that failed.
type Stage string

const (
	StageAgent     Stage = "agent"
	StageSynthesis Stage = "synthesis"
	StageCanceled  Stage = "canceled"
)

// TurnError is the only error a turn yields. Both transports render it: the
// voice socket as an error message, the text relay as an inline event.
type TurnError struct {
	Stage     Stage
	SessionID string
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("pipeline: session %q: %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
