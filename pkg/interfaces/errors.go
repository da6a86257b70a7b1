package interfaces

import "errors"

// Common errors shared across component boundaries
var (
	ErrAttemptNotFound = errors.New("exam attempt not found")
	ErrNotFound        = errors.New("record not found")
	ErrUnauthorized    = errors.New("unauthorized access")
)
