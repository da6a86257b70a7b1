package proctor

import "errors"

// Session management error types
var (
	ErrSessionNotFound = errors.New("no active session for attempt")
	ErrSessionEnded    = errors.New("session has ended")
	ErrSessionBusy     = errors.New("session event queue is full")
	ErrInvalidEvent    = errors.New("invalid proctoring event")
)
