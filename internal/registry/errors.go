package registry

import "errors"

// Registry-related errors
var (
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrNotAuthenticated = errors.New("connection must be authenticated before registration")
)
