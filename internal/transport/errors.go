package transport

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrWriteTimeout     = errors.New("write timeout exceeded")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrAuthRequired     = errors.New("first message must be authenticate")
)
