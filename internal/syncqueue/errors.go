package syncqueue

import "errors"

// Sync queue error types
var (
	ErrUnknownActionType = errors.New("unknown sync action type")
	ErrInvalidItem       = errors.New("invalid sync queue item")
	ErrMalformedPayload  = errors.New("malformed action payload")
)
