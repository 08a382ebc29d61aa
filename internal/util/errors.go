package util

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailRegistered = errors.New("email already registered")
	ErrSessionNotFound = errors.New("session not found")
	ErrNodeNotFound    = errors.New("concept node not found")
	ErrGraphNotLoaded  = errors.New("knowledge graph not loaded")
	ErrTurnInFlight    = errors.New("another turn is already being processed")
)

// SessionConflictError is returned when a user who already has an active
// session tries to open another one. Callers surface ActiveSessionID so
// the client can resume or terminate the existing session.
type SessionConflictError struct {
	ActiveSessionID string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("user already has an active session: %s", e.ActiveSessionID)
}

// InvalidStateError is returned by session lifecycle transitions that are
// not allowed from the session's current state.
type InvalidStateError struct {
	SessionID string
	From      string
	Action    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session %s in state %q", e.Action, e.SessionID, e.From)
}

// ContextError wraps a failure while assembling the model context for a
// turn. It aborts the turn before any model call is made.
type ContextError struct {
	Stage string
	Err   error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("context assembly failed at %s: %v", e.Stage, e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }

// ModelStreamError wraps a model API failure mid-stream. The turn is
// aborted without persisting a partial assistant turn.
type ModelStreamError struct {
	Err error
}

func (e *ModelStreamError) Error() string {
	return fmt.Sprintf("model stream error: %v", e.Err)
}

func (e *ModelStreamError) Unwrap() error { return e.Err }
