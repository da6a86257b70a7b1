package types

import "errors"

// Validation error types shared across components
var (
	ErrInvalidUserID     = errors.New("invalid user ID format")
	ErrInvalidRole       = errors.New("invalid role: must be student, teacher or admin")
	ErrInvalidEventType  = errors.New("invalid proctoring event type")
	ErrInvalidPriority   = errors.New("invalid priority: must be low, medium, high or critical")
	ErrInvalidActionType = errors.New("invalid sync action type")
	ErrInvalidConnEvent  = errors.New("invalid connection event type")
	ErrInvalidPayload    = errors.New("payload is not valid JSON")
	ErrPayloadTooLarge   = errors.New("payload exceeds 64KB limit")
)
