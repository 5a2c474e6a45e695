package client

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession          = errors.New("no persisted session")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrNetworkFailure     = errors.New("network failure")
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionReplaced means a token update was dropped because the session
	// was cleared or rotated by someone else since it was read.
	ErrSessionReplaced = errors.New("session changed since it was read")
)

// Reasons passed to OnSessionEnded besides the server's 401 reason codes.
const (
	EndReasonNetwork = "network"
	EndReasonReplay  = "replay_unauthorized"
	EndReasonLogout  = "logout"
)

// SessionEndedError is the single "session ended" signal: persisted state has
// been cleared and the user must sign in again.
type SessionEndedError struct {
	Reason string
	Err    error
}

func (e *SessionEndedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session ended (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session ended (%s)", e.Reason)
}

func (e *SessionEndedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnauthenticated, e.Err}
	}
	return []error{ErrUnauthenticated}
}
