package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrTurnInProgress is returned when a second turn arrives while one is running.
	ErrTurnInProgress = errors.New("workflow: a turn is already in progress")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("workflow: session closed")
	// ErrEmptyInput is returned for blank input once the greeting has been used.
	ErrEmptyInput = errors.New("workflow: input is empty")
	// ErrInvalidInput is returned for unknown modalities or audio turns without a reference.
	ErrInvalidInput = errors.New("workflow: invalid input")
	// ErrGeneration marks a turn whose reply could not be generated. Nothing was persisted.
	ErrGeneration = errors.New("workflow: generation failed")
	// ErrPersistence marks a reply that was produced but not (fully) persisted.
	ErrPersistence = errors.New("workflow: persistence failed")
	// ErrReconciliation marks a failed consistency or dominance judgment.
	ErrReconciliation = errors.New("workflow: reconciliation failed")
	// ErrUnknownTurn is returned by RetryCommit for ids that are not pending.
	ErrUnknownTurn = errors.New("workflow: no pending turn with that id")
)

// TurnError records the stage a turn was in when it stopped.
type TurnError struct {
	Stage State
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("workflow: %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
