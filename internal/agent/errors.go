package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for agent operations
var (
	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrEmptySummary indicates the summarization call returned no content
	ErrEmptySummary = errors.New("summarization returned empty content")
)

// TurnPhase identifies where in the turn state machine an error occurred.
type TurnPhase string

const (
	PhaseCompact      TurnPhase = "compact"
	PhaseGenerate     TurnPhase = "generate"
	PhaseRoute        TurnPhase = "route"
	PhaseExecuteTools TurnPhase = "execute_tools"
	PhaseDone         TurnPhase = "done"
)

// TurnError wraps a failure that aborted a turn, annotated with the phase
// and round in which it occurred.
type TurnError struct {
	Phase    TurnPhase
	Round    int
	ThreadID string
	Cause    error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed in phase %s (round %d, thread %s): %v",
		e.Phase, e.Round, e.ThreadID, e.Cause)
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// TurnAbortedError indicates the generate/execute round limit was exceeded.
// It is a distinct terminal condition: the turn did not complete normally,
// and no history was committed.
type TurnAbortedError struct {
	ThreadID string
	Rounds   int
}

func (e *TurnAbortedError) Error() string {
	return fmt.Sprintf("turn aborted on thread %s: exceeded %d tool rounds", e.ThreadID, e.Rounds)
}

// ValidationError indicates tool arguments failed schema validation at the
// registry boundary. It is surfaced to the model as an error tool result,
// never as a turn failure.
type ValidationError struct {
	ToolName string
	Cause    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.ToolName, e.Cause)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}
